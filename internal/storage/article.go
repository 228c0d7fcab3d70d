package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"github.com/stablewatch/ingest/internal/model"
)

// ArticlePostgresStorage persists articles and answers dedup lookups.
type ArticlePostgresStorage struct {
	db *sqlx.DB
}

func NewArticlePostgresStorage(db *sqlx.DB) *ArticlePostgresStorage {
	return &ArticlePostgresStorage{db: db}
}

// ExistingCanonicalURLs returns which of the given canonical URLs are
// already stored for this source.
func (s *ArticlePostgresStorage) ExistingCanonicalURLs(ctx context.Context, sourceID int64, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var existing []string
	if err := conn.SelectContext(ctx, &existing,
		`SELECT canonical_url FROM articles WHERE source_id = $1 AND canonical_url = ANY($2)`,
		sourceID, pq.StringArray(urls),
	); err != nil {
		return nil, err
	}

	return existing, nil
}

// ExistsByHash reports whether this source already has an article with
// the given content hash published after the cutoff.
func (s *ArticlePostgresStorage) ExistsByHash(ctx context.Context, sourceID int64, hash string, since time.Time) (bool, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	var id int64
	err = conn.GetContext(ctx, &id,
		`SELECT id FROM articles
		 WHERE source_id = $1 AND content_hash = $2 AND published_at_utc >= $3
		 LIMIT 1`,
		sourceID, hash, since,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// Insert stores a new article and returns its id.
func (s *ArticlePostgresStorage) Insert(ctx context.Context, a model.Article) (int64, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var id int64
	row := conn.QueryRowxContext(ctx,
		`INSERT INTO articles (
			title, source_id, url, canonical_url, published_at_utc, fetched_at_utc,
			language, region, content_text, content_hash, summary_short,
			why_it_matters, confidence_label, status, importance_score, importance_label
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`,
		a.Title, a.SourceID, a.URL, a.CanonicalURL, a.PublishedAt, a.FetchedAt,
		a.Language, a.Region, a.ContentText, a.ContentHash, a.SummaryShort,
		a.WhyItMatters, a.ConfidenceLabel, a.Status, a.ImportanceScore, a.ImportanceLabel,
	)
	if err := row.Err(); err != nil {
		return 0, err
	}
	if err := row.Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

// AttachIssue back-references the issue an article was clustered into.
// The only mutation an article sees after insert, besides notifier
// bookkeeping.
func (s *ArticlePostgresStorage) AttachIssue(ctx context.Context, articleID, issueID int64) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		`UPDATE articles SET issue_id = $2 WHERE id = $1`,
		articleID, issueID,
	)
	return err
}

// AllNotPosted returns recent unposted articles at or above the score
// cutoff, most important first. Used by the notifier.
func (s *ArticlePostgresStorage) AllNotPosted(ctx context.Context, since time.Time, minScore int, limit uint64) ([]model.Article, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var rows []dbArticle
	if err := conn.SelectContext(ctx, &rows,
		`SELECT id, source_id, title, url, canonical_url, published_at_utc, fetched_at_utc,
		        language, region, summary_short, importance_score, importance_label
		 FROM articles
		 WHERE posted_at IS NULL AND fetched_at_utc >= $1 AND importance_score >= $2
		 ORDER BY importance_score DESC, published_at_utc DESC
		 LIMIT $3`,
		since, minScore, limit,
	); err != nil {
		return nil, err
	}

	return lo.Map(rows, func(row dbArticle, _ int) model.Article {
		return row.toModel()
	}), nil
}

// MarkPosted stamps an article as published to the notification channel.
func (s *ArticlePostgresStorage) MarkPosted(ctx context.Context, id int64) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		`UPDATE articles SET posted_at = NOW() WHERE id = $1`,
		id,
	)
	return err
}

type dbArticle struct {
	ID              int64         `db:"id"`
	SourceID        int64         `db:"source_id"`
	Title           string        `db:"title"`
	URL             string        `db:"url"`
	CanonicalURL    string        `db:"canonical_url"`
	PublishedAt     time.Time     `db:"published_at_utc"`
	FetchedAt       time.Time     `db:"fetched_at_utc"`
	Language        string        `db:"language"`
	Region          string        `db:"region"`
	SummaryShort    string        `db:"summary_short"`
	ImportanceScore int           `db:"importance_score"`
	ImportanceLabel string        `db:"importance_label"`
	IssueID         sql.NullInt64 `db:"issue_id"`
}

func (row dbArticle) toModel() model.Article {
	a := model.Article{
		ID:              row.ID,
		SourceID:        row.SourceID,
		Title:           row.Title,
		URL:             row.URL,
		CanonicalURL:    row.CanonicalURL,
		PublishedAt:     row.PublishedAt,
		FetchedAt:       row.FetchedAt,
		Language:        row.Language,
		Region:          row.Region,
		SummaryShort:    row.SummaryShort,
		ImportanceScore: row.ImportanceScore,
		ImportanceLabel: row.ImportanceLabel,
	}
	if row.IssueID.Valid {
		id := row.IssueID.Int64
		a.IssueID = &id
	}
	return a
}
