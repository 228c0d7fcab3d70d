package storage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"github.com/stablewatch/ingest/internal/model"
)

// IssuePostgresStorage persists issues and their update timeline.
type IssuePostgresStorage struct {
	db *sqlx.DB
}

func NewIssuePostgresStorage(db *sqlx.DB) *IssuePostgresStorage {
	return &IssuePostgresStorage{db: db}
}

// ActiveByRegion lists issues in a region last seen after the cutoff,
// newest first. Activity is derived from last_seen_at_utc; there is no
// stored state flag to maintain.
func (s *IssuePostgresStorage) ActiveByRegion(ctx context.Context, region string, since time.Time) ([]model.Issue, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var rows []dbIssue
	if err := conn.SelectContext(ctx, &rows,
		`SELECT id, title, topic_label, region, representative_article_id, issue_summary,
		        why_it_matters, tags, key_entities, importance_score, importance_label,
		        first_seen_at_utc, last_seen_at_utc
		 FROM issues
		 WHERE region = $1 AND last_seen_at_utc >= $2
		 ORDER BY last_seen_at_utc DESC`,
		region, since,
	); err != nil {
		return nil, err
	}

	return lo.Map(rows, func(row dbIssue, _ int) model.Issue {
		return row.toModel()
	}), nil
}

// Insert creates a new issue and returns its id.
func (s *IssuePostgresStorage) Insert(ctx context.Context, issue model.Issue) (int64, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var id int64
	row := conn.QueryRowxContext(ctx,
		`INSERT INTO issues (
			title, topic_label, region, representative_article_id, issue_summary,
			why_it_matters, tags, key_entities, importance_score, importance_label,
			first_seen_at_utc, last_seen_at_utc
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		issue.Title, issue.TopicLabel, issue.Region, issue.RepresentativeArticleID,
		issue.IssueSummary, issue.WhyItMatters,
		pq.StringArray(issue.Tags), pq.StringArray(issue.KeyEntities),
		issue.ImportanceScore, issue.ImportanceLabel,
		issue.FirstSeenAt, issue.LastSeenAt,
	)
	if err := row.Err(); err != nil {
		return 0, err
	}
	if err := row.Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

// Touch refreshes an issue after a new article was attached: rolling
// summary, recomputed importance and the last-seen timestamp that keeps
// it inside the active window.
func (s *IssuePostgresStorage) Touch(ctx context.Context, id int64, lastSeen time.Time, summary string, score int, label string) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		`UPDATE issues
		 SET last_seen_at_utc = $2, issue_summary = $3, importance_score = $4, importance_label = $5
		 WHERE id = $1`,
		id, lastSeen, summary, score, label,
	)
	return err
}

// AddUpdate appends an issue timeline row.
func (s *IssuePostgresStorage) AddUpdate(ctx context.Context, upd model.IssueUpdate) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		`INSERT INTO issue_updates (issue_id, update_at_utc, update_summary, evidence_article_ids, confidence_label)
		 VALUES ($1, $2, $3, $4, $5)`,
		upd.IssueID, upd.UpdateAt, upd.UpdateSummary,
		pq.Int64Array(upd.EvidenceArticleIDs), upd.ConfidenceLabel,
	)
	return err
}

type dbIssue struct {
	ID                      int64          `db:"id"`
	Title                   string         `db:"title"`
	TopicLabel              string         `db:"topic_label"`
	Region                  string         `db:"region"`
	RepresentativeArticleID int64          `db:"representative_article_id"`
	IssueSummary            string         `db:"issue_summary"`
	WhyItMatters            string         `db:"why_it_matters"`
	Tags                    pq.StringArray `db:"tags"`
	KeyEntities             pq.StringArray `db:"key_entities"`
	ImportanceScore         int            `db:"importance_score"`
	ImportanceLabel         string         `db:"importance_label"`
	FirstSeenAt             time.Time      `db:"first_seen_at_utc"`
	LastSeenAt              time.Time      `db:"last_seen_at_utc"`
}

func (row dbIssue) toModel() model.Issue {
	return model.Issue{
		ID:                      row.ID,
		Title:                   row.Title,
		TopicLabel:              row.TopicLabel,
		Region:                  row.Region,
		RepresentativeArticleID: row.RepresentativeArticleID,
		IssueSummary:            row.IssueSummary,
		WhyItMatters:            row.WhyItMatters,
		Tags:                    row.Tags,
		KeyEntities:             row.KeyEntities,
		ImportanceScore:         row.ImportanceScore,
		ImportanceLabel:         row.ImportanceLabel,
		FirstSeenAt:             row.FirstSeenAt,
		LastSeenAt:              row.LastSeenAt,
	}
}
