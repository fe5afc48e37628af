package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a preference has never been set.
var ErrNotFound = errors.New("not found")

// DownloadRecord represents a file finalized into the library.
type DownloadRecord struct {
	Key         string    `json:"key"`
	FileName    string    `json:"file_name"`
	Location    string    `json:"location"`
	CompletedAt time.Time `json:"completed_at"`
}

// DownloadRepository keeps the history of completed downloads.
type DownloadRepository interface {
	RecordDownload(ctx context.Context, key, fileName, location string) error
	GetDownloads(ctx context.Context) ([]DownloadRecord, error)
}

// PreferenceRepository stores user preferences.
type PreferenceRepository interface {
	Destination(ctx context.Context) (string, error)
	SetDestination(ctx context.Context, location string) error
	SeedDestination(ctx context.Context, location string) (bool, error)
	RequireDestination(ctx context.Context) (string, error)
}
