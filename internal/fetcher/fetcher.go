// Package fetcher streams a remote file into a private temporary directory,
// reporting progress after every chunk and observing cancellation between chunks.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/musicdl/internal/fetcher/progress"
	"github.com/italolelis/musicdl/internal/logctx"
	"github.com/italolelis/musicdl/internal/media"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// ChunkSize is the size of each read/write step.
	ChunkSize = 8 * 1024

	dirPerm = 0o700

	// Partial files are write-only; a completed file is made readable.
	// An unreadable file left behind therefore marks an aborted attempt.
	partialPerm  = 0o200
	completePerm = 0o644

	partialSuffix = ".part"
)

// Event is one element of a Stream. Exactly one of the final events
// (Path set, or Err set) ends the stream.
type Event struct {
	Progress float64
	Path     string
	Err      error
}

// Done reports whether e is the final event of a stream.
func (e Event) Done() bool {
	return e.Path != "" || e.Err != nil
}

// Fetcher downloads remote files into Dir. Every download gets its own
// temporary file, so concurrent downloads of the same name never share one.
type Fetcher struct {
	dir    string
	client *http.Client

	mu     sync.Mutex
	active map[string]struct{}
}

type Option func(*Fetcher)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

func New(dir string, opts ...Option) *Fetcher {
	f := &Fetcher{
		dir: dir,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		active: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Dir returns the temporary directory the fetcher writes to.
func (f *Fetcher) Dir() string {
	return f.dir
}

// ActiveFiles returns the names of the temporary files being written right now.
func (f *Fetcher) ActiveFiles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.active))
	for path := range f.active {
		names = append(names, filepath.Base(path))
	}

	return names
}

func (f *Fetcher) track(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.active[path] = struct{}{}
}

func (f *Fetcher) untrack(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.active, path)
}

func (f *Fetcher) isActive(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.active[path]

	return ok
}

// Stream runs Download in its own goroutine and exposes it as a channel of
// events. The channel is closed after the final event. If ctx is cancelled the
// channel may close without a final event.
func (f *Fetcher) Stream(ctx context.Context, src, fileName string) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		path, err := f.Download(ctx, src, fileName, func(p float64) {
			select {
			case events <- Event{Progress: p}:
			case <-ctx.Done():
			}
		})

		final := Event{Path: path, Err: err}
		if err == nil {
			final.Progress = 100
		}

		select {
		case events <- final:
		case <-ctx.Done():
		}
	}()

	return events
}

// Download copies src into a new temporary file whose name starts with
// fileName and returns its path. onProgress is called after every chunk and
// once more with 100 on success. On failure the partial file is removed.
func (f *Fetcher) Download(ctx context.Context, src, fileName string, onProgress func(float64)) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(f.dir, dirPerm); err != nil {
		return "", &media.IOError{Op: "create temp dir", Path: f.dir, Err: err}
	}

	if err := f.removeStale(fileName); err != nil {
		return "", &media.IOError{Op: "remove stale file", Path: fileName, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return "", media.Cancelled(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", &media.IOError{Op: "request", Path: src, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", media.Cancelled(ctx.Err())
		}

		return "", &media.IOError{Op: "request", Path: src, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &media.IOError{Op: "request", Path: src, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	out, err := os.CreateTemp(f.dir, fileName+".*"+partialSuffix)
	if err != nil {
		return "", &media.IOError{Op: "create", Path: fileName, Err: err}
	}

	path := out.Name()

	f.track(path)
	defer f.untrack(path)

	fail := func(err error) (string, error) {
		out.Close()

		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove partial file", "file", path, "err", rmErr)
		}

		return "", err
	}

	if err := os.Chmod(path, partialPerm); err != nil {
		return fail(&media.IOError{Op: "chmod", Path: path, Err: err})
	}

	logger.Debug("downloading file", "file", path, "size", humanize.Bytes(uint64(max(resp.ContentLength, 0))))

	report := func(p float64) {
		if onProgress != nil {
			onProgress(p)
		}
	}
	pw := progress.NewWriter(out, resp.ContentLength, report)
	buf := make([]byte, ChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return fail(media.Cancelled(err))
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := pw.Write(buf[:n]); werr != nil {
				return fail(&media.IOError{Op: "write", Path: path, Err: werr})
			}
		}

		if errors.Is(rerr, io.EOF) {
			break
		}

		if rerr != nil {
			if ctx.Err() != nil {
				return fail(media.Cancelled(ctx.Err()))
			}

			return fail(&media.IOError{Op: "read", Path: src, Err: rerr})
		}
	}

	if resp.ContentLength > 0 && pw.BytesWritten() < resp.ContentLength {
		return fail(&media.IOError{Op: "read", Path: src, Err: io.ErrUnexpectedEOF})
	}

	if err := out.Close(); err != nil {
		return fail(&media.IOError{Op: "close", Path: path, Err: err})
	}

	if err := os.Chmod(path, completePerm); err != nil {
		return fail(&media.IOError{Op: "chmod", Path: path, Err: err})
	}

	report(100)

	logger.Debug("downloaded file", "file", path, "size", humanize.Bytes(uint64(pw.BytesWritten())))

	return path, nil
}

// removeStale deletes leftover partial files of fileName from aborted
// attempts. Files still being written by this fetcher are kept.
func (f *Fetcher) removeStale(fileName string) error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return err
	}

	prefix := fileName + "."

	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, partialSuffix) {
			continue
		}

		path := filepath.Join(f.dir, name)
		if f.isActive(path) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return err
		}

		if info.Mode().Perm()&0o400 != 0 {
			continue
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	return nil
}
