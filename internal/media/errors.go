package media

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned when a source reference cannot be parsed or is unsupported.
	ErrInvalidKey = errors.New("invalid source key")
	// ErrNotFound is returned when the resolver found nothing for a key.
	ErrNotFound = errors.New("source not found")
	// ErrNoAudioFormat is returned when a resolved source has no downloadable audio.
	ErrNoAudioFormat = errors.New("no audio format")
	// ErrDestinationUnavailable is returned when no destination is configured or it cannot be written.
	ErrDestinationUnavailable = errors.New("destination unavailable")
	// ErrIO marks local or remote transfer and copy failures.
	ErrIO = errors.New("i/o error")
	// ErrCancelled marks a task that observed cancellation.
	ErrCancelled = errors.New("cancelled")
)

// IOError represents a failure while moving bytes, either from the remote
// source or between local files and the destination.
type IOError struct {
	Op   string // The operation that failed (e.g. "read", "write", "finalize")
	Path string // File or URL involved, if any
	Err  error  // Underlying error, if any
}

func (e *IOError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("i/o error during %s of %s", e.Op, e.Path)
	}

	return fmt.Sprintf("i/o error during %s of %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Is reports IOError as ErrIO so callers can classify it with errors.Is.
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

// ResolveError is reported out-of-band when a submission fails before its
// transfer started. Nothing is left in the registry for Key.
type ResolveError struct {
	Key string
	Err error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("failed to prepare download for %s: %v", e.Key, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// Cancelled wraps a context error so it matches ErrCancelled while keeping
// the original cause reachable.
func Cancelled(cause error) error {
	if cause == nil {
		return ErrCancelled
	}

	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

// Kind classifies err into the error taxonomy. It returns "" for nil.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNoAudioFormat):
		return "no_audio_format"
	case errors.Is(err, ErrDestinationUnavailable):
		return "destination_unavailable"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "unknown"
	}
}
