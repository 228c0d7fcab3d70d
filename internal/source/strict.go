package source

import (
	"time"

	"github.com/SlyMarbo/rss"
	"github.com/samber/lo"

	"github.com/stablewatch/ingest/internal/model"
)

// StrictParser is the alternative FeedParser built on a real feed
// library. It rejects malformed documents outright, which the tolerant
// default deliberately does not; it exists for deployments that prefer
// strictness over salvage.
type StrictParser struct{}

// NewStrictParser builds the strict parser.
func NewStrictParser() StrictParser {
	return StrictParser{}
}

// Parse delegates to the rss library; on any parse error it returns no
// items, keeping the FeedParser contract of never failing.
func (StrictParser) Parse(raw string) []model.Item {
	feed, err := rss.Parse([]byte(raw))
	if err != nil {
		return nil
	}

	return lo.FilterMap(feed.Items, func(item *rss.Item, _ int) (model.Item, bool) {
		if item.Title == "" || item.Link == "" {
			return model.Item{}, false
		}

		date := item.Date
		if date.IsZero() {
			date = time.Now()
		}

		return model.Item{
			Title:       item.Title,
			Link:        item.Link,
			Summary:     item.Summary,
			PublishedAt: date.UTC(),
		}, true
	})
}
