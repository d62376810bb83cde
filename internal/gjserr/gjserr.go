// Package gjserr defines the structured error-kind taxonomy shared across
// the job-scheduling core: Codec, Identity, QueueClient, JobRunner,
// WorkerPool and Notifier all surface failures as *gjserr.Error so callers
// can branch on Kind with errors.As instead of sniffing message prefixes.
package gjserr

import (
	"errors"
	"fmt"
)

// Kind identifies which documented failure mode produced an Error.
type Kind string

const (
	// CodecError is raised by the codec when a value is not
	// representable or a round-trip check diverges.
	CodecError Kind = "codec_error"
	// HandleFormatError is raised by the identity package when a queue
	// handle does not match H:token:digits or server//H:token:digits.
	HandleFormatError Kind = "handle_format_error"
	// QueueError wraps any non-success reply from the Gearman backend.
	QueueError Kind = "queue_error"
	// JobFailure is the failure raised by user code inside Run.
	JobFailure Kind = "job_failure"
	// JobTimeout is raised when an attempt exceeds its configured budget.
	JobTimeout Kind = "job_timeout"
	// PoolCapacityExceeded is raised at worker pool startup when more
	// worker instances are requested than the pool cap allows.
	PoolCapacityExceeded Kind = "pool_capacity_exceeded"
	// BackendRegistrationError is raised when no configured server
	// accepts a CAN_DO registration.
	BackendRegistrationError Kind = "backend_registration_error"
	// NotifierError wraps a failure from the notification sink. It is
	// always non-fatal: it gets appended to, never replaces, the
	// triggering failure.
	NotifierError Kind = "notifier_error"
	// InvalidProgressError is raised by the progress sink when
	// denominator <= 0.
	InvalidProgressError Kind = "invalid_progress_error"
)

// Error is the single structured error type for the job-scheduling core.
// Fields beyond Kind and the wrapped Cause are optional context used for
// logging and notification bodies; zero values are fine.
type Error struct {
	Kind Cause
	Err  error

	// Function, Handle and GJSID are optional context, filled in by
	// whichever layer had them available when the error was raised.
	Function string
	Handle   string
	GJSID    string
}

// Cause is an alias kept for readability at call sites; Kind values live
// in the Kind type above.
type Cause = Kind

// New creates an Error of the given kind wrapping cause.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

// Newf creates an Error of the given kind from a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WithFunction attaches the function name to the error and returns it.
func (e *Error) WithFunction(name string) *Error {
	e.Function = name
	return e
}

// WithHandle attaches the queue handle to the error and returns it.
func (e *Error) WithHandle(handle string) *Error {
	e.Handle = handle
	return e
}

// WithGJSID attaches the GJS job id to the error and returns it.
func (e *Error) WithGJSID(id string) *Error {
	e.GJSID = id
	return e
}

func (e *Error) Error() string {
	if e.Function == "" {
		return fmt.Sprintf("gjs: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("gjs: %s: function %q: %v", e.Kind, e.Function, e.Err)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *gjserr.Error with the same Kind. This
// lets callers write errors.Is(err, gjserr.New(gjserr.QueueError, nil)) or,
// more idiomatically, use the Of helper below.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Of reports whether err is a *gjserr.Error of the given kind.
func Of(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// Append combines a primary error with a secondary, non-fatal one (used by
// JobRunner when a Notifier call fails after a terminal job failure: the
// caller must still see the original failure, with the notifier error
// appended rather than substituted).
func Append(primary, secondary error) error {
	if secondary == nil {
		return primary
	}
	if primary == nil {
		return secondary
	}
	return fmt.Errorf("%w (notification also failed: %v)", primary, secondary)
}
