// Package mediaerr defines the error taxonomy shared across the transcoding
// pipeline: which failures are fatal to a job attempt, which are swallowed,
// and which carry enough detail for the caller's terminal callback.
package mediaerr

import "fmt"

// TransientIO covers download/upload I/O failures. It fails the job
// attempt; pkg/queue marks the job failed and does not re-queue it.
// Callback failures are logged by the notifier and never reach here.
type TransientIO struct {
	Op  string
	Err error
}

func (e *TransientIO) Error() string { return fmt.Sprintf("transient io (%s): %v", e.Op, e.Err) }
func (e *TransientIO) Unwrap() error { return e.Err }

// EncoderFailed means the encoder's *main* invocation for an item exited
// non-zero: fatal for that item, and fatal for the job attempt.
type EncoderFailed struct {
	Code       int
	StderrTail string
}

func (e *EncoderFailed) Error() string {
	return fmt.Sprintf("encoder exited %d: %s", e.Code, e.StderrTail)
}

// EncoderOptional wraps a failure from a best-effort stage (thumbnail,
// blurred thumbnail). Callers swallow this, log it, and leave the
// corresponding result URL null.
type EncoderOptional struct {
	Stage string
	Err   error
}

func (e *EncoderOptional) Error() string { return fmt.Sprintf("optional stage %s failed: %v", e.Stage, e.Err) }
func (e *EncoderOptional) Unwrap() error { return e.Err }

// EncoderUnavailable means the encoder process itself could not be
// started (binary missing, exec failure). Fatal for the job attempt.
type EncoderUnavailable struct {
	Err error
}

func (e *EncoderUnavailable) Error() string { return fmt.Sprintf("encoder unavailable: %v", e.Err) }
func (e *EncoderUnavailable) Unwrap() error { return e.Err }

// MasterPlaylistMissing means the post-encode playlist synthesis step
// failed; the item produces no result.
type MasterPlaylistMissing struct {
	Reason string
}

func (e *MasterPlaylistMissing) Error() string { return "master playlist missing: " + e.Reason }

// StoreUnavailable wraps a Progress Store read/write failure, naming the
// operation that hit it. The store logs it and carries on: reads fall
// back to defaults, writes are dropped. It is never raised to callers.
type StoreUnavailable struct {
	Op  string
	Err error
}

func (e *StoreUnavailable) Error() string { return fmt.Sprintf("progress store %s unavailable: %v", e.Op, e.Err) }
func (e *StoreUnavailable) Unwrap() error { return e.Err }

// CleanupFailed wraps a scratch-directory purge failure. Always logged,
// never raised.
type CleanupFailed struct {
	Path string
	Err  error
}

func (e *CleanupFailed) Error() string { return fmt.Sprintf("cleanup failed for %s: %v", e.Path, e.Err) }
func (e *CleanupFailed) Unwrap() error { return e.Err }

// ValidationError marks a malformed job that must never be retried,
// e.g. a job with an empty media array.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }
