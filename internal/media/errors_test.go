package media

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// TestIOError_Error verifies error message formatting
func TestIOError_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        *IOError
		wantFormat string
	}{
		{
			name:       "with cause",
			err:        &IOError{Op: "read", Path: "http://example.com/a", Err: errors.New("connection reset")},
			wantFormat: "i/o error during read of http://example.com/a: connection reset",
		},
		{
			name:       "without cause",
			err:        &IOError{Op: "finalize", Path: "song.mp3"},
			wantFormat: "i/o error during finalize of song.mp3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantFormat {
				t.Errorf("Error() = %q, want %q", got, tt.wantFormat)
			}
		})
	}
}

// TestIOError_Unwrap verifies error chain traversal
func TestIOError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &IOError{Op: "write", Path: "a.mp3", Err: cause}

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	wrapped := fmt.Errorf("context: %w", err)
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is() should find cause in wrapped chain")
	}

	if !errors.Is(wrapped, ErrIO) {
		t.Error("errors.Is() should match ErrIO for IOError")
	}
}

// TestIOError_As verifies programmatic error type detection
func TestIOError_As(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", &IOError{Op: "write", Path: "a.mp3"})

	var target *IOError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As() should extract IOError from wrapped chain")
	}

	if target.Op != "write" {
		t.Errorf("Op = %q, want %q", target.Op, "write")
	}
}

// TestResolveError_Unwrap verifies the taxonomy survives the out-of-band wrapper
func TestResolveError_Unwrap(t *testing.T) {
	err := &ResolveError{Key: "yt:abc", Err: ErrNoAudioFormat}

	if !errors.Is(err, ErrNoAudioFormat) {
		t.Error("errors.Is() should find ErrNoAudioFormat through ResolveError")
	}

	expected := "failed to prepare download for yt:abc: no audio format"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestCancelled(t *testing.T) {
	err := Cancelled(context.Canceled)

	if !errors.Is(err, ErrCancelled) {
		t.Error("Cancelled() should match ErrCancelled")
	}

	if !errors.Is(err, context.Canceled) {
		t.Error("Cancelled() should keep the context cause")
	}

	if !errors.Is(Cancelled(nil), ErrCancelled) {
		t.Error("Cancelled(nil) should match ErrCancelled")
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "cancelled", err: Cancelled(context.Canceled), want: "cancelled"},
		{name: "context canceled", err: fmt.Errorf("x: %w", context.Canceled), want: "cancelled"},
		{name: "invalid key", err: fmt.Errorf("x: %w", ErrInvalidKey), want: "invalid_key"},
		{name: "not found", err: ErrNotFound, want: "not_found"},
		{name: "no audio", err: &ResolveError{Key: "k", Err: ErrNoAudioFormat}, want: "no_audio_format"},
		{name: "destination", err: ErrDestinationUnavailable, want: "destination_unavailable"},
		{name: "io", err: &IOError{Op: "read"}, want: "io"},
		{name: "other", err: errors.New("boom"), want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}
