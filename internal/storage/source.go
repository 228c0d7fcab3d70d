package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"github.com/stablewatch/ingest/internal/model"
)

// SourcePostgresStorage reads and updates feed sources.
type SourcePostgresStorage struct {
	db *sqlx.DB
}

func NewSourcePostgresStorage(db *sqlx.DB) *SourcePostgresStorage {
	return &SourcePostgresStorage{db: db}
}

// Enabled lists enabled sources in run-priority order: sources with no
// recent error first, then the most recently successful. Ordering is
// recomputed from persisted health state each run, so a failing source
// is deprioritized but never starved permanently.
func (s *SourcePostgresStorage) Enabled(ctx context.Context) ([]model.Source, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var rows []dbSource
	if err := conn.SelectContext(ctx, &rows,
		`SELECT id, name, type, tier, url, rss_url, region, enabled, last_success_at, last_error_at
		 FROM sources
		 WHERE enabled = TRUE
		 ORDER BY last_error_at ASC NULLS FIRST, last_success_at DESC NULLS LAST`,
	); err != nil {
		return nil, err
	}

	return lo.Map(rows, func(row dbSource, _ int) model.Source {
		return row.toModel()
	}), nil
}

// MarkSuccess records a successful run, clearing the error state.
func (s *SourcePostgresStorage) MarkSuccess(ctx context.Context, id int64, at time.Time) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		`UPDATE sources SET last_success_at = $2, last_error_at = NULL WHERE id = $1`,
		id, at,
	)
	return err
}

// MarkError records a failed run without clearing success history.
func (s *SourcePostgresStorage) MarkError(ctx context.Context, id int64, at time.Time) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		`UPDATE sources SET last_error_at = $2 WHERE id = $1`,
		id, at,
	)
	return err
}

// Add inserts a source; seeding and administration happen outside the
// ingest loop.
func (s *SourcePostgresStorage) Add(ctx context.Context, src model.Source) (int64, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var id int64
	row := conn.QueryRowxContext(ctx,
		`INSERT INTO sources (name, type, tier, url, rss_url, region, enabled)
		 VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), $7)
		 RETURNING id`,
		src.Name, src.Type, src.Tier, src.URL, src.RSSURL, src.Region, src.Enabled,
	)
	if err := row.Err(); err != nil {
		return 0, err
	}
	if err := row.Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

type dbSource struct {
	ID            int64          `db:"id"`
	Name          string         `db:"name"`
	Type          string         `db:"type"`
	Tier          sql.NullString `db:"tier"`
	URL           string         `db:"url"`
	RSSURL        sql.NullString `db:"rss_url"`
	Region        sql.NullString `db:"region"`
	Enabled       bool           `db:"enabled"`
	LastSuccessAt sql.NullTime   `db:"last_success_at"`
	LastErrorAt   sql.NullTime   `db:"last_error_at"`
}

func (row dbSource) toModel() model.Source {
	src := model.Source{
		ID:      row.ID,
		Name:    row.Name,
		Type:    row.Type,
		Tier:    row.Tier.String,
		URL:     row.URL,
		RSSURL:  row.RSSURL.String,
		Region:  row.Region.String,
		Enabled: row.Enabled,
	}
	if row.LastSuccessAt.Valid {
		t := row.LastSuccessAt.Time
		src.LastSuccessAt = &t
	}
	if row.LastErrorAt.Valid {
		t := row.LastErrorAt.Time
		src.LastErrorAt = &t
	}
	return src
}
