package extensions

import (
	"context"
	"fmt"
	"sync"
)

// HookPoint represents a point in the dispatch pipeline where hooks can
// be registered
type HookPoint string

const (
	// Dispatch lifecycle
	HookBeforeDispatch HookPoint = "before_dispatch"
	HookAfterDispatch  HookPoint = "after_dispatch"
	HookDispatchFailed HookPoint = "dispatch_failed"

	// Persistence lifecycle
	HookBeforeStore       HookPoint = "before_store"
	HookAfterStore        HookPoint = "after_store"
	HookSnapshotWritten   HookPoint = "snapshot_written"
	HookEventsPublished   HookPoint = "events_published"
	HookPublishFailed     HookPoint = "publish_failed"
)

// Hook is a function executed at a hook point. The data payload depends
// on the point: the command for dispatch hooks, the envelope batch for
// store/publish hooks.
type Hook func(ctx context.Context, data interface{}) error

// HookManager manages hooks for extension points
type HookManager struct {
	hooks map[HookPoint][]Hook
	mu    sync.RWMutex
}

// NewHookManager creates a new hook manager
func NewHookManager() *HookManager {
	return &HookManager{
		hooks: make(map[HookPoint][]Hook),
	}
}

// Register registers a hook for a specific hook point
func (m *HookManager) Register(point HookPoint, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks[point] = append(m.hooks[point], hook)
}

// Execute executes all hooks for a specific hook point in registration
// order. The first hook error aborts the chain.
func (m *HookManager) Execute(ctx context.Context, point HookPoint, data interface{}) error {
	m.mu.RLock()
	hooks := m.hooks[point]
	m.mu.RUnlock()

	for i, hook := range hooks {
		if err := hook(ctx, data); err != nil {
			return fmt.Errorf("hook %d at %s failed: %w", i, point, err)
		}
	}
	return nil
}

// Count returns the number of hooks registered at a point
func (m *HookManager) Count(point HookPoint) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooks[point])
}
