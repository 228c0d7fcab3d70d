package source

import (
	"regexp"
	"strings"
	"time"

	"github.com/stablewatch/ingest/internal/model"
	"github.com/stablewatch/ingest/internal/normalize"
)

// FeedParser turns raw feed bytes into items. Implementations must be
// tolerant: malformed input yields fewer items, never an error.
type FeedParser interface {
	Parse(raw string) []model.Item
}

// PatternParser extracts RSS 2.0 <item> and Atom <entry> blocks with
// bounded pattern matches instead of an XML parser. Real-world feeds are
// frequently invalid XML; this keeps whatever can be salvaged. RSS items
// come first, then Atom entries, each in document order.
type PatternParser struct {
	now func() time.Time
}

// NewPatternParser builds the default tolerant parser.
func NewPatternParser() *PatternParser {
	return &PatternParser{now: time.Now}
}

var (
	itemBlockRe  = regexp.MustCompile(`(?is)<item>.*?</item>`)
	entryBlockRe = regexp.MustCompile(`(?is)<entry>.*?</entry>`)

	titleRe     = regexp.MustCompile(`(?is)<title>(.*?)</title>`)
	linkTextRe  = regexp.MustCompile(`(?is)<link>(.*?)</link>`)
	descRe      = regexp.MustCompile(`(?is)<description>(.*?)</description>`)
	pubDateRe   = regexp.MustCompile(`(?is)<pubDate>(.*?)</pubDate>`)
	summaryRe   = regexp.MustCompile(`(?is)<summary>(.*?)</summary>`)
	contentRe   = regexp.MustCompile(`(?is)<content[^>]*>(.*?)</content>`)
	publishedRe = regexp.MustCompile(`(?is)<published>(.*?)</published>`)
	updatedRe   = regexp.MustCompile(`(?is)<updated>(.*?)</updated>`)

	// Atom feeds use href with either quote style and arbitrary
	// attribute order. Both forms are tried before the <link>text</link>
	// fallback.
	hrefDoubleRe = regexp.MustCompile(`(?i)<link[^>]*\shref\s*=\s*"([^"]+)"[^>]*>`)
	hrefSingleRe = regexp.MustCompile(`(?i)<link[^>]*\shref\s*=\s*'([^']+)'[^>]*>`)

	cdataRe = regexp.MustCompile(`<!\[CDATA\[|\]\]>`)
)

// Parse scans for RSS items and Atom entries independently and unions
// the results. Items missing a title or link are dropped.
func (p *PatternParser) Parse(raw string) []model.Item {
	var items []model.Item

	for _, block := range itemBlockRe.FindAllString(raw, -1) {
		item := p.parseRSSItem(block)
		if item.Title != "" && item.Link != "" {
			items = append(items, item)
		}
	}

	for _, block := range entryBlockRe.FindAllString(raw, -1) {
		item := p.parseAtomEntry(block)
		if item.Title != "" && item.Link != "" {
			items = append(items, item)
		}
	}

	return items
}

func (p *PatternParser) parseRSSItem(block string) model.Item {
	link := ""
	if m := linkTextRe.FindStringSubmatch(block); m != nil {
		link = strings.TrimSpace(m[1])
	}

	return model.Item{
		Title:       cleanField(firstMatch(block, titleRe)),
		Link:        link,
		Summary:     cleanField(firstMatch(block, descRe)),
		PublishedAt: p.normalizeDate(firstMatch(block, pubDateRe)),
	}
}

func (p *PatternParser) parseAtomEntry(block string) model.Item {
	summary := firstMatch(block, summaryRe)
	if summary == "" {
		summary = firstMatch(block, contentRe)
	}

	date := firstMatch(block, publishedRe)
	if date == "" {
		date = firstMatch(block, updatedRe)
	}

	return model.Item{
		Title:       cleanField(firstMatch(block, titleRe)),
		Link:        extractAtomLink(block),
		Summary:     cleanField(summary),
		PublishedAt: p.normalizeDate(date),
	}
}

func firstMatch(block string, re *regexp.Regexp) string {
	if m := re.FindStringSubmatch(block); m != nil {
		return m[1]
	}
	return ""
}

func extractAtomLink(block string) string {
	stripped := cdataRe.ReplaceAllString(block, "")

	if m := hrefDoubleRe.FindStringSubmatch(stripped); m != nil {
		return strings.TrimSpace(normalize.DecodeEntities(m[1]))
	}
	if m := hrefSingleRe.FindStringSubmatch(stripped); m != nil {
		return strings.TrimSpace(normalize.DecodeEntities(m[1]))
	}
	if m := linkTextRe.FindStringSubmatch(stripped); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func cleanField(value string) string {
	return normalize.StripTags(cdataRe.ReplaceAllString(value, ""))
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// normalizeDate parses the published date, substituting the current time
// when the value is absent or unparseable. A bad date never drops an item.
func (p *PatternParser) normalizeDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return p.now().UTC()
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}

	return p.now().UTC()
}
