package container

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine.
var (
	// ErrTimeout is returned by TimeoutGuard.Run when the configured
	// duration elapses before the wrapped operation completes.
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled is returned by TimeoutGuard.Run when the guard is
	// cancelled from outside before the operation completes.
	ErrCancelled = errors.New("operation cancelled")

	// ErrGuardUsed is returned when a TimeoutGuard is run a second time.
	ErrGuardUsed = errors.New("timeout guard already used")

	// ErrContainerNotFound is returned when an operation references a
	// container id that is not registered or not yet created.
	ErrContainerNotFound = errors.New("container not found")
)

// BackendOp names the backend call that produced a BackendError.
type BackendOp string

// Backend operations.
const (
	OpCreate  BackendOp = "create"
	OpStart   BackendOp = "start"
	OpStop    BackendOp = "stop"
	OpRemove  BackendOp = "remove"
	OpExec    BackendOp = "exec"
	OpInspect BackendOp = "inspect"
	OpPull    BackendOp = "pull"
)

// BackendError is a failed runtime backend call together with the diagnostic
// text captured from it (stderr for the CLI backend, the RPC error text for
// the containerd backend).
type BackendError struct {
	Op         BackendOp
	Diagnostic string
	Err        error
}

func (e *BackendError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("backend %s failed: %s", e.Op, e.Diagnostic)
	}
	return fmt.Sprintf("backend %s failed: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// TransitionError reports a lifecycle transition that is not in the allowed
// edge table.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From.Phase, e.To.Phase)
}

// IDMismatchError reports a transition whose new state carries a different
// container id than the current state. It is more specific than
// TransitionError: the edge shape may be allowed but the id changed.
type IDMismatchError struct {
	Expected string
	Actual   string
}

func (e *IDMismatchError) Error() string {
	return fmt.Sprintf("container id mismatch: expected %s, got %s", e.Expected, e.Actual)
}
