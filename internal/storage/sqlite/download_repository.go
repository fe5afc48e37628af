package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/musicdl/internal/storage"
)

type DownloadRepository struct {
	db *sql.DB
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn}
}

// RecordDownload stores a completed download. A key downloaded again replaces its record.
func (r *DownloadRepository) RecordDownload(ctx context.Context, key, fileName, location string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO downloads (download_key, file_name, location, completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(download_key) DO UPDATE SET
			file_name = excluded.file_name,
			location = excluded.location,
			completed_at = excluded.completed_at
	`, key, fileName, location, time.Now().UTC().Format(time.RFC3339))

	return err
}

// GetDownloads returns all completed downloads, most recent first.
func (r *DownloadRepository) GetDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT download_key, file_name, location, completed_at FROM downloads ORDER BY completed_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	downloads := []storage.DownloadRecord{}

	for rows.Next() {
		var (
			record      storage.DownloadRecord
			completedAt string
		)

		if err := rows.Scan(&record.Key, &record.FileName, &record.Location, &completedAt); err != nil {
			return nil, err
		}

		record.CompletedAt, err = time.Parse(time.RFC3339, completedAt)
		if err != nil {
			return nil, err
		}

		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}
