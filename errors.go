package archibald

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors for the failure classes callers branch on. Contention and
// stop signals are matched with errors.Is; everything else is classified by
// Classify below.
var (
	// ErrSessionBusy is returned when a user's automation session is already
	// checked out. The caller should wait or pick another user, not retry
	// blindly.
	ErrSessionBusy = errors.New("session already checked out for user")

	// ErrSyncInProgress is returned when a sync for the same type is already
	// running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrLoginFailed marks an authentication failure against the remote
	// system. It aborts the current job and fails the checkpoint.
	ErrLoginFailed = errors.New("remote login failed")

	// ErrStopRequested signals a cooperative stop. It is not a failure: the
	// checkpoint keeps its last fully applied page and the job exits quietly.
	ErrStopRequested = errors.New("stop requested")

	// ErrPoolClosed is returned by Acquire after the pool has been shut down.
	ErrPoolClosed = errors.New("session pool closed")
)

// ErrorClass buckets job-level failures for reporting.
type ErrorClass string

const (
	ClassContention ErrorClass = "contention"
	ClassTransient  ErrorClass = "transient"
	ClassValidation ErrorClass = "validation"
	ClassFatal      ErrorClass = "fatal"
	ClassStop       ErrorClass = "stop"
)

// transientError wraps a remote/transient failure so the retry helper knows
// it is worth another attempt.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retriable (network timeout, navigation failure).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf builds a retriable error from a format string.
func Transientf(format string, args ...any) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err (or anything it wraps) is retriable.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// ValidationError reports a business-rule violation on input. It is never
// retried and is safe to surface verbatim to an interactive caller.
type ValidationError struct {
	Field     string
	Rule      string
	Suggested string
}

func (e *ValidationError) Error() string {
	if e.Suggested != "" {
		return fmt.Sprintf("validation failed on %s: %s (suggested: %s)", e.Field, e.Rule, e.Suggested)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Rule)
}

// Classify maps err onto the reporting taxonomy. Fatal is the fallback for
// anything unrecognized since unknown failures abort the job.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStopRequested):
		return ClassStop
	case errors.Is(err, ErrSessionBusy), errors.Is(err, ErrSyncInProgress):
		return ClassContention
	case IsTransient(err):
		return ClassTransient
	default:
		var ve *ValidationError
		if errors.As(err, &ve) {
			return ClassValidation
		}
		return ClassFatal
	}
}
