package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/lo"

	"github.com/stablewatch/ingest/internal/classify"
	"github.com/stablewatch/ingest/internal/model"
)

type fakeSources struct {
	list      []model.Source
	successes []int64
	failures  []int64
}

func (f *fakeSources) Enabled(_ context.Context) ([]model.Source, error) {
	return f.list, nil
}

func (f *fakeSources) MarkSuccess(_ context.Context, id int64, _ time.Time) error {
	f.successes = append(f.successes, id)
	return nil
}

func (f *fakeSources) MarkError(_ context.Context, id int64, _ time.Time) error {
	f.failures = append(f.failures, id)
	return nil
}

type fakeArticles struct {
	nextID   int64
	rows     []model.Article
	attached map[int64]int64
}

func (f *fakeArticles) ExistingCanonicalURLs(_ context.Context, sourceID int64, urls []string) ([]string, error) {
	stored := lo.FilterMap(f.rows, func(a model.Article, _ int) (string, bool) {
		return a.CanonicalURL, a.SourceID == sourceID
	})
	return lo.Intersect(stored, urls), nil
}

func (f *fakeArticles) ExistsByHash(_ context.Context, sourceID int64, hash string, since time.Time) (bool, error) {
	for _, a := range f.rows {
		if a.SourceID == sourceID && a.ContentHash == hash && a.FetchedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeArticles) Insert(_ context.Context, article model.Article) (int64, error) {
	f.nextID++
	article.ID = f.nextID
	f.rows = append(f.rows, article)
	return article.ID, nil
}

func (f *fakeArticles) AttachIssue(_ context.Context, articleID, issueID int64) error {
	if f.attached == nil {
		f.attached = make(map[int64]int64)
	}
	f.attached[articleID] = issueID
	return nil
}

type fakeIssues struct {
	nextID  int64
	rows    []model.Issue
	updates []model.IssueUpdate
	touches int
}

func (f *fakeIssues) ActiveByRegion(_ context.Context, region string, since time.Time) ([]model.Issue, error) {
	return lo.Filter(f.rows, func(i model.Issue, _ int) bool {
		return i.Region == region && i.LastSeenAt.After(since)
	}), nil
}

func (f *fakeIssues) Insert(_ context.Context, issue model.Issue) (int64, error) {
	f.nextID++
	issue.ID = f.nextID
	f.rows = append(f.rows, issue)
	return issue.ID, nil
}

func (f *fakeIssues) Touch(_ context.Context, id int64, lastSeen time.Time, summary string, score int, label string) error {
	f.touches++
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows[i].LastSeenAt = lastSeen
			f.rows[i].IssueSummary = summary
			f.rows[i].ImportanceScore = score
			f.rows[i].ImportanceLabel = label
		}
	}
	return nil
}

func (f *fakeIssues) AddUpdate(_ context.Context, upd model.IssueUpdate) error {
	f.updates = append(f.updates, upd)
	return nil
}

type fakeLogs struct {
	rows []model.IngestLog
}

func (f *fakeLogs) Insert(_ context.Context, row model.IngestLog) error {
	f.rows = append(f.rows, row)
	return nil
}

type fakeFeed struct {
	id    int64
	name  string
	items []model.Item
	err   error
}

func (f fakeFeed) ID() int64    { return f.id }
func (f fakeFeed) Name() string { return f.name }

func (f fakeFeed) Fetch(_ context.Context) ([]model.Item, error) {
	return f.items, f.err
}

type runnerEnv struct {
	sources  *fakeSources
	articles *fakeArticles
	issues   *fakeIssues
	logs     *fakeLogs
	runner   *Runner
}

func newRunnerEnv(srcs []model.Source, feeds map[int64]fakeFeed, opts Options) *runnerEnv {
	env := &runnerEnv{
		sources:  &fakeSources{list: srcs},
		articles: &fakeArticles{},
		issues:   &fakeIssues{},
		logs:     &fakeLogs{},
	}
	env.runner = NewRunner(
		env.sources,
		env.articles,
		env.issues,
		env.logs,
		classify.NewDefault(),
		func(src model.Source) Feed { return feeds[src.ID] },
		opts,
	)
	return env
}

func tierOneSource(id int64) model.Source {
	return model.Source{ID: id, Name: "official-feed", Type: "rss", Tier: "1", Region: ""}
}

func TestRunStopsBeforeFirstSourceWhenOverBudget(t *testing.T) {
	t.Parallel()

	feeds := map[int64]fakeFeed{1: {id: 1, items: []model.Item{{
		Title: "never fetched", Link: "https://example.com/x", PublishedAt: time.Now(),
	}}}}

	// With the default 1.5s safety margin a 1ms budget is exhausted
	// before the first source is even considered.
	env := newRunnerEnv([]model.Source{tierOneSource(1)}, feeds, Options{Budget: time.Millisecond})

	res, err := env.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !res.StoppedEarly {
		t.Fatal("expected stopped_early")
	}
	if res.SourcesProcessed != 0 {
		t.Fatalf("sources_processed = %d, want 0", res.SourcesProcessed)
	}
	if len(env.articles.rows) != 0 || len(env.logs.rows) != 0 {
		t.Fatal("no work should have happened")
	}
}

func TestRunEmptyFeedWarnsWithoutHealthUpdate(t *testing.T) {
	t.Parallel()

	feeds := map[int64]fakeFeed{1: {id: 1, name: "empty"}}
	env := newRunnerEnv([]model.Source{tierOneSource(1)}, feeds, Options{})

	res, err := env.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.SourcesProcessed != 1 || res.InsertedArticles != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(env.logs.rows) != 1 {
		t.Fatalf("expected 1 log row, got %d", len(env.logs.rows))
	}

	row := env.logs.rows[0]
	if row.Status != model.StatusWarn || row.ErrorMessage != "rss_parse_no_items" {
		t.Fatalf("unexpected log row: %+v", row)
	}

	// Warn rows record the outcome but do not move the source's health
	// timestamps in either direction.
	if len(env.sources.successes) != 0 || len(env.sources.failures) != 0 {
		t.Fatal("empty feed must not touch source health")
	}
}

func TestRunURLDedupAcrossRuns(t *testing.T) {
	t.Parallel()

	item := model.Item{
		Title:       "Reserve attestation published",
		Link:        "https://example.com/attestation",
		Summary:     "Quarterly reserves attestation for the issuer.",
		PublishedAt: time.Now(),
	}
	feeds := map[int64]fakeFeed{1: {id: 1, items: []model.Item{item}}}
	env := newRunnerEnv([]model.Source{tierOneSource(1)}, feeds, Options{})

	first, err := env.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.InsertedArticles != 1 {
		t.Fatalf("first run inserted %d, want 1", first.InsertedArticles)
	}

	second, err := env.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if second.InsertedArticles != 0 {
		t.Fatalf("second run inserted %d, want 0", second.InsertedArticles)
	}
	if len(env.articles.rows) != 1 {
		t.Fatalf("stored %d articles, want 1", len(env.articles.rows))
	}

	row := env.logs.rows[1]
	if row.ItemsSkippedURL != 1 || row.ItemsSaved != 0 {
		t.Fatalf("second run log: %+v", row)
	}
	if row.Status != model.StatusOK {
		t.Fatalf("second run status = %q", row.Status)
	}
}

func TestRunHashDedupWithinRun(t *testing.T) {
	t.Parallel()

	// Same story republished behind a different URL within one feed:
	// the URL stage misses it, the hash stage must not.
	first := model.Item{
		Title:       "Depeg concerns ease",
		Link:        "https://example.com/story",
		Summary:     "The peg recovered over the weekend.",
		PublishedAt: time.Now(),
	}
	republished := first
	republished.Link = "https://example.com/story?utm_source=partner"

	feeds := map[int64]fakeFeed{1: {id: 1, items: []model.Item{first, republished}}}
	env := newRunnerEnv([]model.Source{tierOneSource(1)}, feeds, Options{})

	res, err := env.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.InsertedArticles != 1 {
		t.Fatalf("inserted %d, want 1", res.InsertedArticles)
	}

	row := env.logs.rows[0]
	if row.ItemsFetched != 2 || row.ItemsSaved != 1 || row.ItemsSkippedHash != 1 || row.ItemsSkippedURL != 0 {
		t.Fatalf("unexpected log row: %+v", row)
	}
}

func TestRunClustersFollowUpIntoSameIssue(t *testing.T) {
	t.Parallel()

	now := time.Now()
	items := []model.Item{
		{
			Title:       "SEC announces stablecoin rule",
			Link:        "https://example.com/rule",
			Summary:     "The SEC today announced a new regulation for stablecoin issuers.",
			PublishedAt: now,
		},
		{
			Title:       "SEC stablecoin rule comment period opens",
			Link:        "https://example.com/comments",
			Summary:     "Public comment opens on the new stablecoin regulation from the SEC.",
			PublishedAt: now,
		},
	}
	feeds := map[int64]fakeFeed{1: {id: 1, items: items}}
	env := newRunnerEnv([]model.Source{tierOneSource(1)}, feeds, Options{})

	res, err := env.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.InsertedArticles != 2 || res.IssueUpdatesCreated != 2 || res.SourcesProcessed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.StoppedEarly {
		t.Fatal("run should fit the default budget")
	}

	// The follow-up must land on the issue created earlier in the same
	// run, not spawn a duplicate.
	if len(env.issues.rows) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(env.issues.rows))
	}

	issue := env.issues.rows[0]
	if issue.Title != "SEC announces stablecoin rule (regulation)" {
		t.Fatalf("issue title = %q", issue.Title)
	}
	if issue.TopicLabel != "regulation" || issue.Region != "Global" {
		t.Fatalf("issue labels: %+v", issue)
	}
	if env.issues.touches != 1 {
		t.Fatalf("touches = %d, want 1", env.issues.touches)
	}

	if len(env.issues.updates) != 2 {
		t.Fatalf("expected 2 issue updates, got %d", len(env.issues.updates))
	}
	for _, upd := range env.issues.updates {
		if upd.IssueID != issue.ID {
			t.Fatalf("update bound to issue %d, want %d", upd.IssueID, issue.ID)
		}
		if upd.UpdateSummary == "" {
			t.Fatal("update summary must never be empty")
		}
	}

	if len(env.articles.attached) != 2 {
		t.Fatalf("attached %d articles, want 2", len(env.articles.attached))
	}
	for articleID, issueID := range env.articles.attached {
		if issueID != issue.ID {
			t.Fatalf("article %d attached to issue %d, want %d", articleID, issueID, issue.ID)
		}
	}

	for _, a := range env.articles.rows {
		if a.ImportanceScore != 89 || a.ImportanceLabel != "high" {
			t.Fatalf("article scoring: %+v", a)
		}
	}
}

func TestRunContainsSourceFailure(t *testing.T) {
	t.Parallel()

	feeds := map[int64]fakeFeed{
		1: {id: 1, err: errors.New("rss_fetch_status_503")},
		2: {id: 2, items: []model.Item{{
			Title:       "Payment network adds settlement partner",
			Link:        "https://example.com/settlement",
			Summary:     "A new bank joins the transfer network.",
			PublishedAt: time.Now(),
		}}},
	}
	srcs := []model.Source{tierOneSource(1), {ID: 2, Name: "second", Type: "rss", Tier: "2"}}
	env := newRunnerEnv(srcs, feeds, Options{})

	res, err := env.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("a failing source must not fail the run: %v", err)
	}

	if res.SourcesProcessed != 2 || res.InsertedArticles != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	if len(env.logs.rows) != 2 {
		t.Fatalf("expected 2 log rows, got %d", len(env.logs.rows))
	}
	if env.logs.rows[0].Status != model.StatusError || env.logs.rows[0].ErrorMessage != "rss_fetch_status_503" {
		t.Fatalf("first log row: %+v", env.logs.rows[0])
	}
	if env.logs.rows[1].Status != model.StatusOK {
		t.Fatalf("second log row: %+v", env.logs.rows[1])
	}

	if len(env.sources.failures) != 1 || env.sources.failures[0] != 1 {
		t.Fatalf("failures = %v, want [1]", env.sources.failures)
	}
	if len(env.sources.successes) != 1 || env.sources.successes[0] != 2 {
		t.Fatalf("successes = %v, want [2]", env.sources.successes)
	}
}

func TestRunRecoversFromPanic(t *testing.T) {
	t.Parallel()

	env := newRunnerEnv([]model.Source{tierOneSource(1)}, nil, Options{})
	// nil map yields the zero fakeFeed for source 1, but replace the
	// factory with one that panics outright.
	env.runner.newFeed = func(model.Source) Feed { panic("boom") }

	res, err := env.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("panic must be contained: %v", err)
	}

	if res.SourcesProcessed != 1 {
		t.Fatalf("sources_processed = %d, want 1", res.SourcesProcessed)
	}
	if len(env.logs.rows) != 1 || env.logs.rows[0].Status != model.StatusError {
		t.Fatalf("expected error log row, got %+v", env.logs.rows)
	}
	if len(env.sources.failures) != 1 {
		t.Fatalf("failures = %v, want one entry", env.sources.failures)
	}
}
