// Package ingest implements the ingestion run: fetch and parse every
// enabled source in health-priority order, dedup and classify each item,
// cluster articles into issues, and leave one audit row per source —
// all inside a wall-clock budget.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/samber/lo"
	"github.com/tomakado/containers/set"

	"github.com/stablewatch/ingest/internal/classify"
	"github.com/stablewatch/ingest/internal/model"
	"github.com/stablewatch/ingest/internal/normalize"
)

// Truncation limits for persisted text fields.
const (
	maxContentText  = 4000
	maxSummaryShort = 280
	maxWhyItMatters = 140
	maxIssueTitle   = 110
)

const defaultUpdateSummary = "New article coverage update."

// errNoItems distinguishes "feed reachable but yielded nothing" from a
// fetch failure; it becomes a warn log row, not an error.
var errNoItems = errors.New("rss_parse_no_items")

// SourceStore lists enabled sources and records run outcomes.
type SourceStore interface {
	Enabled(ctx context.Context) ([]model.Source, error)
	MarkSuccess(ctx context.Context, id int64, at time.Time) error
	MarkError(ctx context.Context, id int64, at time.Time) error
}

// ArticleStore persists articles and answers the dedup membership tests.
type ArticleStore interface {
	ExistingCanonicalURLs(ctx context.Context, sourceID int64, urls []string) ([]string, error)
	ExistsByHash(ctx context.Context, sourceID int64, hash string, since time.Time) (bool, error)
	Insert(ctx context.Context, article model.Article) (int64, error)
	AttachIssue(ctx context.Context, articleID, issueID int64) error
}

// IssueStore persists issues and their update timeline.
type IssueStore interface {
	ActiveByRegion(ctx context.Context, region string, since time.Time) ([]model.Issue, error)
	Insert(ctx context.Context, issue model.Issue) (int64, error)
	Touch(ctx context.Context, id int64, lastSeen time.Time, summary string, score int, label string) error
	AddUpdate(ctx context.Context, upd model.IssueUpdate) error
}

// LogStore appends ingest audit rows.
type LogStore interface {
	Insert(ctx context.Context, row model.IngestLog) error
}

// Feed is one fetchable source, already bound to its URLs and parser.
type Feed interface {
	ID() int64
	Name() string
	Fetch(ctx context.Context) ([]model.Item, error)
}

// Summarizer produces the update text of IssueUpdate rows. Optional.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// ContentExtractor fetches readable page text for items that arrive
// without a summary. Optional.
type ContentExtractor interface {
	Extract(ctx context.Context, pageURL string) (string, error)
}

// RunResult aggregates one ingest run for the trigger response.
type RunResult struct {
	InsertedArticles    int  `json:"inserted_articles"`
	IssueUpdatesCreated int  `json:"issue_updates_created"`
	SourcesProcessed    int  `json:"sources_processed"`
	StoppedEarly        bool `json:"stopped_early"`
}

// Options tunes a Runner; zero values fall back to production defaults.
type Options struct {
	Budget       time.Duration // wall-clock run budget
	SafetyMargin time.Duration // subtracted from the budget
	Lookback     time.Duration // active-issue window
	HashWindow   time.Duration // content-hash dedup window
	URLBatch     int           // canonical-URL prefetch bound
	Now          func() time.Time
	Summarizer   Summarizer
	Extractor    ContentExtractor
}

// Runner walks all enabled sources once. Sources are processed strictly
// one at a time and items within a source strictly in feed order; the
// budget is checked cooperatively before each source and each item.
type Runner struct {
	sources    SourceStore
	articles   ArticleStore
	issues     IssueStore
	logs       LogStore
	classifier *classify.Classifier
	newFeed    func(model.Source) Feed

	budget     time.Duration
	safety     time.Duration
	lookback   time.Duration
	hashWindow time.Duration
	urlBatch   int
	now        func() time.Time
	summarizer Summarizer
	extractor  ContentExtractor
}

// NewRunner wires an ingest runner.
func NewRunner(
	sources SourceStore,
	articles ArticleStore,
	issues IssueStore,
	logs LogStore,
	classifier *classify.Classifier,
	newFeed func(model.Source) Feed,
	opts Options,
) *Runner {
	if opts.Budget <= 0 {
		opts.Budget = 28 * time.Second
	}
	if opts.SafetyMargin <= 0 {
		opts.SafetyMargin = 1500 * time.Millisecond
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 72 * time.Hour
	}
	if opts.HashWindow <= 0 {
		opts.HashWindow = 7 * 24 * time.Hour
	}
	if opts.URLBatch <= 0 {
		opts.URLBatch = 80
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Runner{
		sources:    sources,
		articles:   articles,
		issues:     issues,
		logs:       logs,
		classifier: classifier,
		newFeed:    newFeed,
		budget:     opts.Budget,
		safety:     opts.SafetyMargin,
		lookback:   opts.Lookback,
		hashWindow: opts.HashWindow,
		urlBatch:   opts.URLBatch,
		now:        opts.Now,
		summarizer: opts.Summarizer,
		extractor:  opts.Extractor,
	}
}

// Start runs ingest on a ticker until the context is canceled. Used by
// self-scheduled deployments; cron-triggered ones call Run via HTTP.
func (r *Runner) Start(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := r.Run(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				return err
			}
		}
	}
}

// Run processes all enabled sources once within the budget. Per-source
// failures are contained and logged; only failing to list sources fails
// the run itself.
func (r *Runner) Run(ctx context.Context) (RunResult, error) {
	var res RunResult

	start := r.now()
	over := func() bool {
		return r.now().Sub(start) > r.budget-r.safety
	}

	sources, err := r.sources.Enabled(ctx)
	if err != nil {
		return res, fmt.Errorf("list sources: %w", err)
	}

	runAt := r.now().UTC()

	for _, src := range sources {
		if over() {
			res.StoppedEarly = true
			break
		}

		res.SourcesProcessed++
		r.runSource(ctx, src, runAt, over, &res)
	}

	return res, nil
}

// runSource contains every failure mode of one source: fetch errors,
// empty feeds and panics all end up in the ingest log without touching
// the rest of the run.
func (r *Runner) runSource(ctx context.Context, src model.Source, runAt time.Time, over func() bool, res *RunResult) {
	row := model.IngestLog{
		SourceID: src.ID,
		RunAt:    runAt,
		Status:   model.StatusOK,
	}

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return r.ingestSource(ctx, src, &row, over, res)
	}()

	if errors.Is(err, errNoItems) {
		// Reachable feed with nothing extractable: warn and leave the
		// source's health timestamps alone, so a broken HTML page does
		// not count as success and starve real feeds.
		row.Status = model.StatusWarn
		row.ErrorMessage = errNoItems.Error()
		if insErr := r.logs.Insert(ctx, row); insErr != nil {
			log.Printf("[ERROR] insert ingest log for source %s: %v", src.Name, insErr)
		}
		return
	}

	if err != nil {
		row.Status = model.StatusError
		row.ErrorMessage = err.Error()
	}

	if insErr := r.logs.Insert(ctx, row); insErr != nil {
		log.Printf("[ERROR] insert ingest log for source %s: %v", src.Name, insErr)
	}

	if row.Status == model.StatusOK {
		if updErr := r.sources.MarkSuccess(ctx, src.ID, runAt); updErr != nil {
			log.Printf("[ERROR] mark source %s success: %v", src.Name, updErr)
		}
	} else {
		if updErr := r.sources.MarkError(ctx, src.ID, runAt); updErr != nil {
			log.Printf("[ERROR] mark source %s error: %v", src.Name, updErr)
		}
	}
}

func (r *Runner) ingestSource(ctx context.Context, src model.Source, row *model.IngestLog, over func() bool, res *RunResult) error {
	feed := r.newFeed(src)

	items, err := feed.Fetch(ctx)
	if err != nil {
		return err
	}

	row.ItemsFetched = len(items)
	if len(items) == 0 {
		return errNoItems
	}

	region := classify.Region(src.Region)

	// Active issues are prefetched once per source; issues created or
	// updated while walking this source's items are folded back into the
	// slice so near-simultaneous articles about one story do not spawn
	// duplicate issues.
	candidates, err := r.issues.ActiveByRegion(ctx, region, r.now().Add(-r.lookback))
	if err != nil {
		return err
	}

	// Batch the URL-stage dedup lookup up front; feeds are mostly
	// repeats and this avoids a query per item.
	canonicals := lo.Map(items, func(it model.Item, _ int) string {
		return normalize.CanonicalURL(it.Link)
	})
	batch := lo.Uniq(canonicals)
	if len(batch) > r.urlBatch {
		batch = batch[:r.urlBatch]
	}
	existing, err := r.articles.ExistingCanonicalURLs(ctx, src.ID, batch)
	if err != nil {
		return err
	}
	seenURLs := set.New(existing...)

	for i, item := range items {
		if over() {
			res.StoppedEarly = true
			break
		}

		if seenURLs.Contains(canonicals[i]) {
			row.ItemsSkippedURL++
			continue
		}

		candidates = r.processItem(ctx, src, item, canonicals[i], region, candidates, row, res)
	}

	return nil
}

// processItem runs one feed item through dedup, classification, insert
// and issue matching. It returns the possibly-extended candidate slice.
func (r *Runner) processItem(
	ctx context.Context,
	src model.Source,
	item model.Item,
	canonicalURL string,
	region string,
	candidates []model.Issue,
	row *model.IngestLog,
	res *RunResult,
) []model.Issue {
	contentHash := normalize.LookupHash(canonicalURL, item.Title, item.Summary)

	// Hash-stage dedup catches same-source republishes behind different
	// URLs, bounded to a rolling window. A failed lookup is treated as
	// "no duplicate"; the insert below still guards integrity.
	dup, err := r.articles.ExistsByHash(ctx, src.ID, contentHash, r.now().Add(-r.hashWindow))
	if err == nil && dup {
		row.ItemsSkippedHash++
		return candidates
	}

	topic := r.classifier.Topic(item.Title, item.Summary)
	entities := r.classifier.Entities(item.Title + " " + item.Summary)
	score, label := r.classifier.Score(src.Tier, topic, entities, item.Title, item.Summary)

	contentText := normalize.Truncate(item.Title+"\n\n"+item.Summary, maxContentText)
	if r.extractor != nil && item.Summary == "" {
		if text, exErr := r.extractor.Extract(ctx, item.Link); exErr == nil && text != "" {
			contentText = normalize.Truncate(text, maxContentText)
		}
	}

	now := r.now().UTC()

	articleID, err := r.articles.Insert(ctx, model.Article{
		SourceID:        src.ID,
		Title:           item.Title,
		URL:             item.Link,
		CanonicalURL:    canonicalURL,
		PublishedAt:     item.PublishedAt.UTC(),
		FetchedAt:       now,
		Language:        classify.Language(region),
		Region:          region,
		ContentText:     contentText,
		ContentHash:     contentHash,
		SummaryShort:    normalize.Truncate(item.Summary, maxSummaryShort),
		WhyItMatters:    normalize.Truncate(item.Summary, maxWhyItMatters),
		ConfidenceLabel: "medium",
		Status:          "new",
		ImportanceScore: score,
		ImportanceLabel: label,
	})
	if err != nil {
		row.ItemsInsertErrors++
		return candidates
	}
	res.InsertedArticles++
	row.ItemsSaved++

	titleTokens := normalize.TokenSet(item.Title)
	summaryTokens := normalize.TokenSet(item.Summary)

	best := -1
	bestScore := 0.0
	for idx, cand := range candidates {
		s := matchScore(cand, topic, titleTokens, summaryTokens, entities, now, r.lookback)
		if s > bestScore {
			best, bestScore = idx, s
		}
	}

	var issueID int64

	if best >= 0 && acceptMatch(bestScore, topic, candidates[best].TopicLabel, r.lookback) {
		issueID = candidates[best].ID
		summary := normalize.Truncate(item.Summary, maxSummaryShort)

		if touchErr := r.issues.Touch(ctx, issueID, now, summary, score, label); touchErr != nil {
			log.Printf("[ERROR] update issue %d: %v", issueID, touchErr)
		}

		candidates[best].LastSeenAt = now
		candidates[best].IssueSummary = summary
		candidates[best].ImportanceScore = score
		candidates[best].ImportanceLabel = label
	} else {
		issue := model.Issue{
			Title:                   normalize.Truncate(item.Title, maxIssueTitle) + " (" + topic + ")",
			TopicLabel:              topic,
			Region:                  region,
			RepresentativeArticleID: articleID,
			IssueSummary:            normalize.Truncate(item.Summary, maxSummaryShort),
			WhyItMatters:            normalize.Truncate(item.Summary, maxWhyItMatters),
			Tags:                    []string{topic},
			KeyEntities:             entities,
			ImportanceScore:         score,
			ImportanceLabel:         label,
			FirstSeenAt:             now,
			LastSeenAt:              now,
		}

		id, createErr := r.issues.Insert(ctx, issue)
		if createErr != nil {
			// The article stays persisted, just unclustered.
			log.Printf("[ERROR] create issue for article %d: %v", articleID, createErr)
		} else {
			issueID = id
			issue.ID = id
			// Newest last-seen first, matching the prefetch ordering.
			candidates = append([]model.Issue{issue}, candidates...)
		}
	}

	if issueID != 0 {
		if attachErr := r.articles.AttachIssue(ctx, articleID, issueID); attachErr != nil {
			log.Printf("[ERROR] attach article %d to issue %d: %v", articleID, issueID, attachErr)
		}

		updateSummary := defaultUpdateSummary
		if r.summarizer != nil {
			if s, sumErr := r.summarizer.Summarize(ctx, contentText); sumErr == nil && s != "" {
				updateSummary = normalize.Truncate(s, maxSummaryShort)
			}
		}

		upd := model.IssueUpdate{
			IssueID:            issueID,
			UpdateAt:           now,
			UpdateSummary:      updateSummary,
			EvidenceArticleIDs: []int64{articleID},
			ConfidenceLabel:    "medium",
		}
		if updErr := r.issues.AddUpdate(ctx, upd); updErr != nil {
			log.Printf("[ERROR] record issue update for issue %d: %v", issueID, updErr)
		} else {
			res.IssueUpdatesCreated++
		}
	}

	return candidates
}
