// Package daemonerr defines the error taxonomy used across the daemon so
// that the RPC layer can format a wire message without string-sniffing.
// The pattern (a small typed-error family, each carrying just a message and
// no wrapped cause) is grounded on the teacher's callbackretry.PermanentError.
package daemonerr

import "fmt"

// BadRequest covers missing/invalid parameters, unknown methods, and empty
// input — anything the caller could have avoided by sending a well-formed
// request.
type BadRequest struct{ Message string }

func (e *BadRequest) Error() string { return e.Message }

// Unauthorized covers the two pre-authentication failure messages.
type Unauthorized struct{ Message string }

func (e *Unauthorized) Error() string { return e.Message }

// StateConflict covers requests that are well-formed but contradict the
// current catalog/session state.
type StateConflict struct{ Message string }

func (e *StateConflict) Error() string { return e.Message }

// External wraps a failure from an external collaborator (git, the
// filesystem, a child process). Its message is surfaced verbatim.
type External struct{ Message string }

func (e *External) Error() string { return e.Message }

// SessionClosed is returned to every outstanding request slot when a
// session tears down.
type SessionClosed struct{}

func (e *SessionClosed) Error() string { return "session closed" }

// SandboxViolation covers a file read that escaped its workspace root.
type SandboxViolation struct{ Message string }

func (e *SandboxViolation) Error() string { return e.Message }

// Partial covers remove_workspace's partial-failure case: some children
// removed, some not.
type Partial struct{ Message string }

func (e *Partial) Error() string { return e.Message }

func BadRequestf(format string, args ...any) error {
	return &BadRequest{Message: fmt.Sprintf(format, args...)}
}

func StateConflictf(format string, args ...any) error {
	return &StateConflict{Message: fmt.Sprintf(format, args...)}
}

func Externalf(format string, args ...any) error {
	return &External{Message: fmt.Sprintf(format, args...)}
}
