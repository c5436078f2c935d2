// Package ctlerr implements the error taxonomy of spec.md §7 as a closed
// set of sentinel kinds, matched with errors.Is and wrapped with
// github.com/pkg/errors so backend causes survive into logs without
// leaking into user-facing messages.
package ctlerr

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Kind is one of the nine taxonomy members of spec.md §7 (AlreadyRunning
// and NotFound are separate kinds).
type Kind string

const (
	KindValidation       Kind = "validation"
	KindUnavailable      Kind = "unavailable"
	KindThrottled        Kind = "throttled"
	KindAlreadyRunning   Kind = "already_running"
	KindNotFound         Kind = "not_found"
	KindBackendTransient Kind = "backend_transient"
	KindBackendPermanent Kind = "backend_permanent"
	KindStreamFailure    Kind = "stream_failure"
	KindProtocol         Kind = "protocol"
)

// Error is the concrete type returned across Supervisor/Dispatcher/Bridge
// boundaries. It carries a Kind for programmatic dispatch (errors.Is
// against the sentinel below) plus taxonomy-specific metadata.
type Error struct {
	Kind          Kind
	Msg           string
	ServerID      string        // populated for AlreadyRunning
	RetryAfter    time.Duration // populated for Throttled
	cause         error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches against the Kind-only sentinels below, so callers can write
// errors.Is(err, ctlerr.Unavailable).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is comparisons. These carry no message/cause of
// their own; New/Wrap below build the real instances.
var (
	Unavailable      = &Error{Kind: KindUnavailable}
	Throttled        = &Error{Kind: KindThrottled}
	AlreadyRunning   = &Error{Kind: KindAlreadyRunning}
	NotFound         = &Error{Kind: KindNotFound}
	Validation       = &Error{Kind: KindValidation}
	BackendTransient = &Error{Kind: KindBackendTransient}
	BackendPermanent = &Error{Kind: KindBackendPermanent}
	StreamFailure    = &Error{Kind: KindStreamFailure}
	Protocol         = &Error{Kind: KindProtocol}
)

// New builds a Kind error with a formatted message and no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a Kind error around cause, truncating cause's message to a
// single line in Msg (spec.md §7: "the user-visible message is the
// backend's error string truncated to a single line") while preserving the
// full cause for logs via errors.Cause/Unwrap.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	prefix := fmt.Sprintf(format, args...)
	line := firstLine(cause.Error())
	msg := prefix
	if line != "" {
		msg = fmt.Sprintf("%s: %s", prefix, line)
	}
	return &Error{Kind: kind, Msg: msg, cause: errors.WithStack(cause)}
}

// WithServerID attaches the existing server id to an AlreadyRunning error.
func (e *Error) WithServerID(id string) *Error {
	e.ServerID = id
	return e
}

// WithRetryAfter attaches the remaining wait to a Throttled error.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
