package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/italolelis/musicdl/internal/media"
	"github.com/italolelis/musicdl/internal/storage"
)

const destinationKey = "destination"

type PreferenceRepository struct {
	db *sql.DB
}

func NewPreferenceRepository(dbConn *sql.DB) *PreferenceRepository {
	return &PreferenceRepository{db: dbConn}
}

// Destination returns the stored destination, or storage.ErrNotFound if none was set.
func (r *PreferenceRepository) Destination(ctx context.Context) (string, error) {
	var location string

	err := r.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, destinationKey).Scan(&location)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}

	if err != nil {
		return "", err
	}

	return location, nil
}

func (r *PreferenceRepository) SetDestination(ctx context.Context, location string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, destinationKey, location)

	return err
}

// SeedDestination stores location only if no destination is set yet and
// reports whether it did.
func (r *PreferenceRepository) SeedDestination(ctx context.Context, location string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO preferences (key, value) VALUES (?, ?)`, destinationKey, location)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// RequireDestination is Destination failing with media.ErrDestinationUnavailable when unset.
func (r *PreferenceRepository) RequireDestination(ctx context.Context) (string, error) {
	location, err := r.Destination(ctx)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && location == "") {
		return "", media.ErrDestinationUnavailable
	}

	if err != nil {
		return "", fmt.Errorf("failed to read destination: %w", err)
	}

	return location, nil
}
