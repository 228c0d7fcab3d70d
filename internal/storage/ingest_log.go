package storage

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/stablewatch/ingest/internal/model"
)

// IngestLogPostgresStorage appends the per-source audit trail.
type IngestLogPostgresStorage struct {
	db *sqlx.DB
}

func NewIngestLogPostgresStorage(db *sqlx.DB) *IngestLogPostgresStorage {
	return &IngestLogPostgresStorage{db: db}
}

// Insert appends one run row. The trail is append-only; nothing in the
// pipeline ever updates or deletes these.
func (s *IngestLogPostgresStorage) Insert(ctx context.Context, row model.IngestLog) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		`INSERT INTO ingest_logs (
			source_id, run_at_utc, status, error_message,
			items_fetched, items_saved, items_skipped_url, items_skipped_hash, items_insert_errors
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)`,
		row.SourceID, row.RunAt, row.Status, row.ErrorMessage,
		row.ItemsFetched, row.ItemsSaved, row.ItemsSkippedURL, row.ItemsSkippedHash, row.ItemsInsertErrors,
	)
	return err
}
