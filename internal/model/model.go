package model

import "time"

// Item is a single entry extracted from an RSS/Atom feed.
type Item struct {
	Title       string
	Link        string
	Summary     string
	PublishedAt time.Time
}

// Source is a feed origin. Tier drives trust scoring; Region drives
// article/issue region and language inference.
type Source struct {
	ID            int64
	Name          string
	Type          string
	Tier          string
	URL           string
	RSSURL        string
	Region        string
	Enabled       bool
	LastSuccessAt *time.Time
	LastErrorAt   *time.Time
}

// FeedURL returns the URL to fetch first: the dedicated RSS URL when the
// source has one, otherwise the primary URL.
func (s Source) FeedURL() string {
	if s.RSSURL != "" {
		return s.RSSURL
	}
	return s.URL
}

// Article is one ingested news item. Immutable after insert except for
// IssueID (set once on clustering) and PostedAt (notifier bookkeeping).
type Article struct {
	ID              int64
	SourceID        int64
	Title           string
	URL             string
	CanonicalURL    string
	PublishedAt     time.Time
	FetchedAt       time.Time
	Language        string
	Region          string
	ContentText     string
	ContentHash     string
	SummaryShort    string
	WhyItMatters    string
	ConfidenceLabel string
	Status          string
	ImportanceScore int
	ImportanceLabel string
	IssueID         *int64
	PostedAt        *time.Time
}

// Issue is a persistent storyline clustering related articles over time.
// An issue is "active" while its last-seen timestamp falls inside the
// lookback window; there is no stored state flag.
type Issue struct {
	ID                      int64
	Title                   string
	TopicLabel              string
	Region                  string
	RepresentativeArticleID int64
	IssueSummary            string
	WhyItMatters            string
	Tags                    []string
	KeyEntities             []string
	ImportanceScore         int
	ImportanceLabel         string
	FirstSeenAt             time.Time
	LastSeenAt              time.Time
}

// IssueUpdate is an append-only timeline entry recording that an article
// was attached to an issue.
type IssueUpdate struct {
	ID                 int64
	IssueID            int64
	UpdateAt           time.Time
	UpdateSummary      string
	EvidenceArticleIDs []int64
	ConfidenceLabel    string
}

// IngestLog statuses.
const (
	StatusOK    = "ok"
	StatusWarn  = "warn"
	StatusError = "error"
)

// IngestLog is one audit row per source per orchestrator run.
type IngestLog struct {
	ID                int64
	SourceID          int64
	RunAt             time.Time
	Status            string
	ErrorMessage      string
	ItemsFetched      int
	ItemsSaved        int
	ItemsSkippedURL   int
	ItemsSkippedHash  int
	ItemsInsertErrors int
}
