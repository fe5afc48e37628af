package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/musicdl/internal/storage"
	"github.com/italolelis/musicdl/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

// RecordDownload records a completed download with telemetry.
func (r *InstrumentedDownloadRepository) RecordDownload(ctx context.Context, key, fileName, location string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_download", func(ctx context.Context) error {
		return r.repo.RecordDownload(ctx, key, fileName, location)
	})
}

// GetDownloads retrieves all downloads with telemetry.
func (r *InstrumentedDownloadRepository) GetDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_downloads", func(ctx context.Context) error {
		result, err = r.repo.GetDownloads(ctx)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// InstrumentedPreferenceRepository wraps PreferenceRepository with telemetry.
type InstrumentedPreferenceRepository struct {
	repo      *PreferenceRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedPreferenceRepository creates a new instrumented preference repository.
func NewInstrumentedPreferenceRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedPreferenceRepository {
	return &InstrumentedPreferenceRepository{
		repo:      NewPreferenceRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedPreferenceRepository) Destination(ctx context.Context) (string, error) {
	var result string

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_destination", func(ctx context.Context) error {
		result, err = r.repo.Destination(ctx)

		return err
	})

	if instrumentedErr != nil {
		return "", instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedPreferenceRepository) SetDestination(ctx context.Context, location string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "set_destination", func(ctx context.Context) error {
		return r.repo.SetDestination(ctx, location)
	})
}

func (r *InstrumentedPreferenceRepository) SeedDestination(ctx context.Context, location string) (bool, error) {
	var seeded bool

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "seed_destination", func(ctx context.Context) error {
		seeded, err = r.repo.SeedDestination(ctx, location)

		return err
	})

	if instrumentedErr != nil {
		return false, instrumentedErr
	}

	return seeded, nil
}

func (r *InstrumentedPreferenceRepository) RequireDestination(ctx context.Context) (string, error) {
	var result string

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "require_destination", func(ctx context.Context) error {
		result, err = r.repo.RequireDestination(ctx)

		return err
	})

	if instrumentedErr != nil {
		return "", instrumentedErr
	}

	return result, nil
}

var (
	_ storage.DownloadRepository   = (*InstrumentedDownloadRepository)(nil)
	_ storage.PreferenceRepository = (*InstrumentedPreferenceRepository)(nil)
)
