// Package scanerr defines the error-kind taxonomy of the scan core (§7):
// a small, closed set of error kinds that every subsystem classifies its
// failures into, so callers can use errors.Is/errors.As against sentinel
// values regardless of which subsystem produced the error.
package scanerr

import (
	"strconv"

	"github.com/pkg/errors"
)

// Kind classifies an Error. The zero Kind is never produced by this
// package; an error with Kind == 0 was not constructed through New.
type Kind int

const (
	_ Kind = iota
	// InvalidArgument — input outside declared domain.
	InvalidArgument
	// Shutdown — operation attempted after pool/handler/registration closed.
	Shutdown
	// Interrupted — cooperative cancellation while waiting on a permit, buffer, or queue.
	Interrupted
	// IOFailure — OS read, stat, or readdir returned an error.
	IOFailure
	// PermissionDenied — OS reported insufficient access for a path.
	PermissionDenied
	// NotFound — path vanished between discovery and access.
	NotFound
	// SymlinkCycle — traversal detected a cycle under FOLLOW.
	SymlinkCycle
	// HashError — hasher failed for a chunk.
	HashError
	// OutOfMemory — allocation failed even after memory-pressure response.
	OutOfMemory
	// Timeout — a bounded wait elapsed without progress.
	Timeout
	// BatchFailure — batch-level gating or execution error; wraps a cause.
	BatchFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case Shutdown:
		return "shutdown"
	case Interrupted:
		return "interrupted"
	case IOFailure:
		return "io_failure"
	case PermissionDenied:
		return "permission_denied"
	case NotFound:
		return "not_found"
	case SymlinkCycle:
		return "symlink_cycle"
	case HashError:
		return "hash_error"
	case OutOfMemory:
		return "out_of_memory"
	case Timeout:
		return "timeout"
	case BatchFailure:
		return "batch_failure"
	default:
		return "unknown"
	}
}

// Error is the concrete error type produced by scancore subsystems. Path
// is empty for errors with no associated filesystem path (e.g. a pool
// rejecting a non-positive buffer size).
type Error struct {
	Kind  Kind
	Path  string
	Cause error

	// ChunkIndex is set only for Kind == HashError.
	ChunkIndex int
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Path != "" {
		msg += ": " + e.Path
	}

	if e.Kind == HashError {
		msg += ": chunk " + strconv.Itoa(e.ChunkIndex)
	}

	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a kind sentinel of the same Kind, so
// errors.Is(err, scanerr.Sentinel(scanerr.OutOfMemory)) matches an *Error
// of that Kind anywhere in err's chain.
func (e *Error) Is(target error) bool {
	ks, ok := target.(kindSentinel)
	if !ok {
		return false
	}

	return e.Kind == Kind(ks)
}

// kindSentinel is the error value Sentinel returns for a Kind, usable as
// an errors.Is target without constructing an *Error.
type kindSentinel Kind

func (k kindSentinel) Error() string { return Kind(k).String() }

// New constructs an *Error of the given kind, optionally wrapping cause.
func New(kind Kind, path string, cause error) *Error {
	return &Error{Kind: kind, Path: path, Cause: cause}
}

// NewHashError constructs a HashError for the given chunk index.
func NewHashError(path string, chunkIndex int, cause error) *Error {
	return &Error{Kind: HashError, Path: path, Cause: cause, ChunkIndex: chunkIndex}
}

// Wrap attaches msg as context to err using pkg/errors, preserving the
// ability to errors.As back to *Error afterwards.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}

	return errors.Wrap(err, msg)
}

// OfKind reports whether err (or a cause in its chain) is a *Error of kind.
func OfKind(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}

	return false
}

// Kind values are not errors themselves; errors.Is targets for a Kind
// come from the Sentinel helper.

// Sentinel returns an error value usable as the target of errors.Is for
// the given Kind, e.g. errors.Is(err, scanerr.Sentinel(scanerr.Timeout)).
func Sentinel(kind Kind) error { return kindSentinel(kind) }
