package errors

import (
	"errors"
)

// Sentinel errors for the entity transaction discipline. These surface
// misuse of the state-mutation protocol and are always programming errors
// on the caller's side.
var (
	// ErrTransactionOpen is returned when Begin is called on an entity
	// that already has an active transaction.
	ErrTransactionOpen = errors.New("entity already has an open transaction")

	// ErrTransactionClosed is returned when a committed or discarded
	// transaction is used again.
	ErrTransactionClosed = errors.New("transaction already closed")

	// ErrNoTransaction is returned when builder access or a state update
	// is attempted with no open transaction.
	ErrNoTransaction = errors.New("no open transaction on entity")

	// ErrVersionGap is returned when AdvanceVersion is called with
	// anything other than the current version plus one.
	ErrVersionGap = errors.New("version must advance by exactly one")

	// ErrAlreadyHydrated is returned when InitAll or InitVersion is
	// called on an entity whose version is no longer zero.
	ErrAlreadyHydrated = errors.New("entity already has history")

	// ErrInvalidSnapshotTrigger is returned when the repository snapshot
	// trigger is set to zero or a negative value.
	ErrInvalidSnapshotTrigger = errors.New("snapshot trigger must be positive")

	// ErrAggregateNotFound is returned by strict repository loads when no
	// history exists for the requested aggregate ID.
	ErrAggregateNotFound = errors.New("aggregate not found")
)

// GetDomainError extracts a DomainError from an error chain, or returns nil
func GetDomainError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// IsConfigurationError reports whether err is a fatal domain model
// configuration defect
func IsConfigurationError(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Type == DomainConfigurationError
	}
	return false
}

// IsBusinessRuleError reports whether err is a business rule rejection
// raised by a command handler
func IsBusinessRuleError(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Type == DomainBusinessRuleError
	}
	return false
}

// IsValidationError reports whether err carries validation failures
func IsValidationError(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Type == DomainValidationError
	}
	var violations *ValidationErrors
	return errors.As(err, &violations)
}

// IsRetryable reports whether the surrounding bus may retry the failed
// operation. Configuration errors and validation failures never are.
func IsRetryable(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Retryable
	}
	return false
}
