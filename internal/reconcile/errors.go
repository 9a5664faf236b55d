package reconcile

import (
	"fmt"
)

// InitializationError means the control-plane client could not be built.
// Every event handled by a reconciler in this state fails.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("control-plane client unavailable: %v", e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// ContractError is a malformed or unsupported lifecycle event.
type ContractError struct {
	Field string
	Value string
	Msg   string
}

func (e *ContractError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid event %s %q: %s", e.Field, e.Value, e.Msg)
	}
	return fmt.Sprintf("invalid event %s: %s", e.Field, e.Msg)
}

// UnexpectedFault wraps a panic recovered while handling an event.
type UnexpectedFault struct {
	Value any
}

func (e *UnexpectedFault) Error() string {
	return fmt.Sprintf("unexpected fault: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *UnexpectedFault) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
