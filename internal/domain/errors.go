package domain

import "fmt"

// Error types for consistent error handling across the bot. These cover the
// unexpected-failure half of the taxonomy; expected not-found/ambiguous
// directory results are values (LookupOutcome), not errors.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrConflict indicates a concurrent write to the same conversation lost an
// optimistic version check. The caller should re-read and retry the turn.
type ErrConflict struct {
	ConversationID string
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("conversation %s was modified concurrently", e.ConversationID)
}

// ErrLocked indicates a per-conversation lock could not be acquired within
// the configured wait, meaning another message from the same sender is
// still being processed.
type ErrLocked struct {
	ConversationID string
}

func (e *ErrLocked) Error() string {
	return fmt.Sprintf("conversation %s is locked by another turn", e.ConversationID)
}
