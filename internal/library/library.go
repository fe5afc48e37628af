// Package library copies finished downloads into the user's music library.
//
// A library location is a gocloud.dev bucket URL such as file:///music,
// s3://bucket?region=eu-west-1 or gs://bucket. A plain directory path is
// treated as a local bucket.
package library

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/musicdl/internal/logctx"
	"github.com/italolelis/musicdl/internal/media"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

const dirPerm = 0o755

// Library opens buckets on demand and keeps them open for reuse.
type Library struct {
	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

func New() *Library {
	return &Library{buckets: make(map[string]*blob.Bucket)}
}

// BucketURL turns a location into a bucket URL. Locations that already carry
// a scheme are returned unchanged.
func BucketURL(location string) (string, error) {
	if strings.Contains(location, "://") {
		return location, nil
	}

	if location == "" {
		return "", media.ErrDestinationUnavailable
	}

	abs, err := filepath.Abs(location)
	if err != nil {
		return "", fmt.Errorf("%w: %v", media.ErrDestinationUnavailable, err)
	}

	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// Validate checks that location can be opened as a bucket.
func (l *Library) Validate(ctx context.Context, location string) error {
	_, err := l.bucket(ctx, location)

	return err
}

// Exists reports whether name is already present at location.
func (l *Library) Exists(ctx context.Context, location, name string) (bool, error) {
	bkt, err := l.bucket(ctx, location)
	if err != nil {
		return false, err
	}

	exists, err := bkt.Exists(ctx, name)
	if err != nil {
		return false, &media.IOError{Op: "exists", Path: name, Err: err}
	}

	return exists, nil
}

// Finalize copies the file at tempPath into location as name.
// A failed copy leaves nothing behind at location.
func (l *Library) Finalize(ctx context.Context, tempPath, location, name string) error {
	bkt, err := l.bucket(ctx, location)
	if err != nil {
		return err
	}

	in, err := os.Open(tempPath)
	if err != nil {
		return &media.IOError{Op: "finalize", Path: tempPath, Err: err}
	}
	defer in.Close()

	// Cancelling ctx before Close discards the partial object.
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer, err := bkt.NewWriter(writeCtx, name, &blob.WriterOptions{
		ContentType: mime.TypeByExtension(filepath.Ext(name)),
	})
	if err != nil {
		if gcerrors.Code(err) == gcerrors.PermissionDenied {
			return fmt.Errorf("%w: %v", media.ErrDestinationUnavailable, err)
		}

		return &media.IOError{Op: "finalize", Path: name, Err: err}
	}

	written, err := io.Copy(writer, in)
	if err != nil {
		cancel()
		writer.Close()

		if ctx.Err() != nil {
			return media.Cancelled(ctx.Err())
		}

		return &media.IOError{Op: "finalize", Path: name, Err: err}
	}

	if err := writer.Close(); err != nil {
		return &media.IOError{Op: "finalize", Path: name, Err: err}
	}

	logctx.LoggerFromContext(ctx).Debug("finalized file", "file", name, "location", location, "size", humanize.Bytes(uint64(written)))

	return nil
}

// Close closes every bucket opened so far.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error

	for location, bkt := range l.buckets {
		if err := bkt.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close bucket %s: %w", location, err)
		}

		delete(l.buckets, location)
	}

	return firstErr
}

func (l *Library) bucket(ctx context.Context, location string) (*blob.Bucket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if bkt, ok := l.buckets[location]; ok {
		return bkt, nil
	}

	bucketURL, err := BucketURL(location)
	if err != nil {
		return nil, err
	}

	if !strings.Contains(location, "://") {
		if err := os.MkdirAll(location, dirPerm); err != nil {
			return nil, fmt.Errorf("%w: %v", media.ErrDestinationUnavailable, err)
		}
	}

	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrDestinationUnavailable, err)
	}

	l.buckets[location] = bkt

	return bkt, nil
}
