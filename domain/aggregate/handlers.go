package aggregate

import (
	"context"
	"fmt"
	"sync"

	"chronicle/domain/entity"
	"chronicle/domain/events"
	pkgerrors "chronicle/pkg/errors"
)

// Command is a request to change one aggregate's state
type Command interface {
	// GetAggregateID identifies the target aggregate
	GetAggregateID() string

	// GetCommandType names the command for handler dispatch
	GetCommandType() string

	// Validate checks the command's own shape before dispatch
	Validate() error
}

// HandlerResult is the tagged outcome of a command handler: zero, one, or
// many events. Dispatch code never inspects handler return values
// dynamically; handlers state their cardinality through the constructors.
type HandlerResult struct {
	events []events.DomainEvent
}

// NoEvents reports that the command was accepted but changed nothing
func NoEvents() HandlerResult {
	return HandlerResult{}
}

// OneEvent wraps a single produced event
func OneEvent(event events.DomainEvent) HandlerResult {
	return HandlerResult{events: []events.DomainEvent{event}}
}

// ManyEvents wraps an ordered list of produced events
func ManyEvents(evs ...events.DomainEvent) HandlerResult {
	return HandlerResult{events: evs}
}

// Events returns the produced events in order
func (r HandlerResult) Events() []events.DomainEvent {
	return r.events
}

// Handler decides whether a command is acceptable against the current
// state and, if so, which events record the decision. Handlers never
// mutate state themselves; they only produce events. A returned error is
// surfaced to the command's caller unmodified, whether it is a business
// rule rejection or an unexpected failure.
type Handler func(ctx context.Context, state entity.State, cmd Command) (HandlerResult, error)

// HandlerSet maps command types to the unique handler responsible for
// them. One set exists per aggregate type, built at composition time.
type HandlerSet struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewHandlerSet creates an empty handler set
func NewHandlerSet() *HandlerSet {
	return &HandlerSet{
		handlers: make(map[string]Handler),
	}
}

// Register registers the handler for a command type. Duplicate
// registration is a configuration error.
func (s *HandlerSet) Register(commandType string, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.handlers[commandType]; exists {
		return pkgerrors.NewConfigurationError(
			"DUPLICATE_HANDLER",
			fmt.Sprintf("handler already registered for command type %q", commandType),
		)
	}
	if handler == nil {
		return pkgerrors.NewConfigurationError(
			"NIL_HANDLER",
			fmt.Sprintf("nil handler registered for command type %q", commandType),
		)
	}

	s.handlers[commandType] = handler
	return nil
}

// Resolve returns the handler for a command type. A miss is fatal: a
// dispatched command with no handler is a domain model defect.
func (s *HandlerSet) Resolve(commandType string) (Handler, error) {
	s.mu.RLock()
	handler, exists := s.handlers[commandType]
	s.mu.RUnlock()

	if !exists {
		return nil, pkgerrors.NewConfigurationError(
			"MISSING_HANDLER",
			fmt.Sprintf("no handler registered for command type %q", commandType),
		)
	}
	return handler, nil
}
