// Package cleanup purges temporary files abandoned by interrupted downloads.
package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/musicdl/internal/logctx"
)

// ActiveFiles lists the temporary file names currently being written.
type ActiveFiles interface {
	ActiveFiles() []string
}

// Metrics receives cleanup results.
type Metrics interface {
	RecordTempFilesRemoved(n int)
	RecordSystemError(component, errorType string)
}

// DeleteExpiredFiles deletes regular files in dir last modified more than
// keepDuration ago, except those named in active. It returns how many files
// were removed.
func DeleteExpiredFiles(ctx context.Context, dir string, active []string, keepDuration time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	skip := make(map[string]struct{}, len(active))
	for _, name := range active {
		skip[name] = struct{}{}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}

		return 0, err
	}

	removed := 0

	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}

		if !entry.Type().IsRegular() {
			continue
		}

		if _, ok := skip[entry.Name()]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // already deleted
			}

			return removed, err
		}

		if now.Sub(info.ModTime()) <= keepDuration {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())
		if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("Failed to delete expired file", "file", filePath, "err", err)

			return removed, err
		}

		removed++

		logger.Info("Deleted expired file", "file", filePath, "size", humanize.Bytes(uint64(info.Size())))
	}

	return removed, nil
}

// Run deletes expired files every interval until ctx is done.
func Run(ctx context.Context, dir string, active ActiveFiles, keepDuration, interval time.Duration, m Metrics) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-ticker.C:
			removed, err := DeleteExpiredFiles(ctx, dir, active.ActiveFiles(), keepDuration)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("failed to delete expired temporary files", "err", err)

				if m != nil {
					m.RecordSystemError("cleanup", "io")
				}
			}

			if m != nil {
				m.RecordTempFilesRemoved(removed)
			}
		}
	}
}
