// Package content fetches article pages and extracts their readable
// text for items whose feed entry carries no summary.
package content

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// readability leaves long runs of blank lines in the extracted text;
// collapse anything from three newlines up.
var redundantNewlines = regexp.MustCompile(`\n{3,}`)

// Extractor pulls readable text out of an article page.
type Extractor struct {
	client    *http.Client
	userAgent string
}

// NewExtractor builds an extractor with the given request timeout.
func NewExtractor(timeout time.Duration, userAgent string) *Extractor {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Extractor{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Extract fetches the page and returns its readable text content.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("content fetch status %d", resp.StatusCode)
	}

	parsedURL, _ := url.Parse(pageURL)

	doc, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", err
	}

	return redundantNewlines.ReplaceAllString(doc.TextContent, "\n"), nil
}
