package syncengine

import "fmt"

// ErrorKind classifies a task failure by what the engine does about it.
type ErrorKind int

const (
	// ErrProtocolViolation: contradictory server numbers (e.g. UIDNEXT
	// decreased without a UIDVALIDITY change). Non-fatal: the task forces
	// FULL_RESYNC and continues.
	ErrProtocolViolation ErrorKind = iota
	// ErrSelectRejected: tagged NO on SELECT. Fatal; no cache mutation.
	ErrSelectRejected
	// ErrBadResponse: tagged BAD anywhere. Fatal; committed cache preserved.
	ErrBadResponse
	// ErrConnectionLost: staged state dropped; committed cache intact.
	ErrConnectionLost
	// ErrCacheIO: cache read/write failed. Not fatal by IsFatal, but Run
	// still ends with it as the task's error when reading the prior state,
	// UID map or flags, or the final Commit, fails. A failed ClearUIDSpace
	// in a full resync and a failed incremental commit in Absorb are only
	// logged, and the in-memory view stays authoritative.
	ErrCacheIO
)

func (k ErrorKind) String() string {
	switch k {
	case ErrSelectRejected:
		return "select_rejected"
	case ErrBadResponse:
		return "bad_response"
	case ErrConnectionLost:
		return "connection_lost"
	case ErrCacheIO:
		return "cache_io"
	default:
		return "protocol_violation"
	}
}

// TaskError wraps an underlying error with its ErrorKind so callers (and the
// Observer.ErrorOccurred boundary) can branch on the taxonomy without string
// matching.
type TaskError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("syncengine: %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

func newTaskError(kind ErrorKind, path string, err error) *TaskError {
	return &TaskError{Kind: kind, Path: path, Err: err}
}

// IsFatal reports whether the taxonomy entry aborts the task (vs. being
// logged/warned and continuing).
func (k ErrorKind) IsFatal() bool {
	return k == ErrSelectRejected || k == ErrBadResponse || k == ErrConnectionLost
}
