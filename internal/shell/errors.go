package shell

import (
	"errors"
	"fmt"
)

// ErrShuttingDown is wrapped by operations refused after Shutdown.
var ErrShuttingDown = errors.New("shutting down")

// Kind classifies controller failures. The CLI maps kinds to exit codes.
type Kind int

const (
	KindUnknown Kind = iota
	KindPortUnavailable
	KindWorkerNotFound
	KindSpawnFailed
	KindWorkerNotReady
	KindSurfaceFailed
	KindAlreadyInitialized
	KindNotInitialized
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindPortUnavailable:    "port unavailable",
	KindWorkerNotFound:     "worker not found",
	KindSpawnFailed:        "spawn failed",
	KindWorkerNotReady:     "worker not ready",
	KindSurfaceFailed:      "surface failed",
	KindAlreadyInitialized: "already initialized",
	KindNotInitialized:     "not initialized",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ExitCode returns the process exit code for a failure of this kind.
func (k Kind) ExitCode() int {
	switch k {
	case KindPortUnavailable:
		return 3
	case KindWorkerNotFound:
		return 4
	case KindSpawnFailed:
		return 5
	case KindWorkerNotReady:
		return 6
	case KindSurfaceFailed:
		return 7
	default:
		return 1
	}
}

// Error is returned by Controller operations.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
