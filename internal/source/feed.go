package source

import (
	"context"

	"github.com/stablewatch/ingest/internal/model"
)

// FeedSource wires one configured source to the fetch client and a
// parser. It implements the ingest loop's Feed interface.
type FeedSource struct {
	src    model.Source
	client *Client
	parser FeedParser
}

// NewFeedSource builds a feed around a stored source record.
func NewFeedSource(src model.Source, client *Client, parser FeedParser) *FeedSource {
	return &FeedSource{src: src, client: client, parser: parser}
}

func (s *FeedSource) ID() int64    { return s.src.ID }
func (s *FeedSource) Name() string { return s.src.Name }

// Fetch retrieves and parses the feed. If the dedicated RSS URL fails
// and a distinct primary URL exists, that is tried once; many sources
// expose broken or removed RSS endpoints while the site itself serves a
// feed. The original error is surfaced when the fallback also fails.
func (s *FeedSource) Fetch(ctx context.Context) ([]model.Item, error) {
	raw, err := s.client.Get(ctx, s.src.FeedURL())
	if err != nil && s.src.RSSURL != "" && s.src.URL != "" && s.src.URL != s.src.RSSURL {
		if alt, altErr := s.client.Get(ctx, s.src.URL); altErr == nil {
			raw, err = alt, nil
		}
	}
	if err != nil {
		return nil, err
	}

	return s.parser.Parse(string(raw)), nil
}
