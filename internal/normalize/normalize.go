// Package normalize holds the text and URL normalization used by dedup
// keys and similarity tokens. Hashing is intentionally insensitive to
// case, punctuation and residual HTML entities so near-duplicate
// republishes of one story collapse to one hash.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign"}

// CanonicalURL strips tracking query parameters and the fragment.
// Unparseable input is returned unchanged: a broken link still works as
// a dedup key, it just never collides.
func CanonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	for _, p := range trackingParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""

	return u.String()
}

var (
	numericEntityRe = regexp.MustCompile(`&#(x?[0-9a-fA-F]+);`)
	namedEntityRe   = regexp.MustCompile(`(?i)&(nbsp|amp|lt|gt|quot|apos);`)
	entityRunRe     = regexp.MustCompile(`(?i)&[a-z]+;`)
	tagRe           = regexp.MustCompile(`<[^>]*>`)
	spaceRunRe      = regexp.MustCompile(`\s+`)
	nonAlnumRe      = regexp.MustCompile(`[^a-z0-9\s]`)
)

var namedEntities = map[string]string{
	"nbsp": " ",
	"amp":  "&",
	"lt":   "<",
	"gt":   ">",
	"quot": `"`,
	"apos": "'",
}

// DecodeEntities resolves numeric character references (decimal and hex)
// and the handful of named entities feeds actually emit.
func DecodeEntities(value string) string {
	if value == "" {
		return value
	}

	decoded := numericEntityRe.ReplaceAllStringFunc(value, func(m string) string {
		body := numericEntityRe.FindStringSubmatch(m)[1]
		base := 10
		digits := body
		if strings.HasPrefix(strings.ToLower(body), "x") {
			base = 16
			digits = body[1:]
		}

		code, err := strconv.ParseInt(digits, base, 32)
		if err != nil || code < 0 || !utf8Valid(rune(code)) {
			return m
		}
		return string(rune(code))
	})

	return namedEntityRe.ReplaceAllStringFunc(decoded, func(m string) string {
		name := strings.ToLower(strings.Trim(m, "&;"))
		if repl, ok := namedEntities[name]; ok {
			return repl
		}
		return m
	})
}

func utf8Valid(r rune) bool {
	return r >= 0 && r <= 0x10FFFF && (r < 0xD800 || r > 0xDFFF)
}

// StripTags removes HTML tags, collapses whitespace runs and decodes
// entities, in that order.
func StripTags(value string) string {
	value = tagRe.ReplaceAllString(value, "")
	value = spaceRunRe.ReplaceAllString(value, " ")
	return DecodeEntities(strings.TrimSpace(value))
}

// forHash lowercases, collapses whitespace and drops entity-like runs
// and non-alphanumerics.
func forHash(value string) string {
	value = strings.ToLower(value)
	value = spaceRunRe.ReplaceAllString(value, " ")
	value = entityRunRe.ReplaceAllString(value, " ")
	value = nonAlnumRe.ReplaceAllString(value, "")
	return strings.TrimSpace(value)
}

// LookupHash builds the content-dedup key from the canonical URL plus
// normalized title and summary.
func LookupHash(canonicalURL, title, summary string) string {
	sum := sha256.Sum256([]byte(canonicalURL + "::" + forHash(title) + "::" + forHash(summary)))
	return hex.EncodeToString(sum[:])
}

// forTokens is like forHash but replaces punctuation with spaces so
// words separated by dashes or slashes still split.
func forTokens(value string) string {
	value = strings.ToLower(value)
	value = entityRunRe.ReplaceAllString(value, " ")
	value = nonAlnumRe.ReplaceAllString(value, " ")
	value = spaceRunRe.ReplaceAllString(value, " ")
	return strings.TrimSpace(value)
}

// TokenSet splits text into a deduplicated token set for similarity
// scoring: tokens shorter than 3 runes are dropped and a single trailing
// "s" is stripped as a naive singularization.
func TokenSet(value string) []string {
	fields := strings.Fields(forTokens(value))

	tokens := lo.FilterMap(fields, func(tok string, _ int) (string, bool) {
		if len(tok) < 3 {
			return "", false
		}
		return strings.TrimSuffix(tok, "s"), true
	})

	return lo.Uniq(tokens)
}

// Truncate shortens a string to at most n runes.
func Truncate(value string, n int) string {
	runes := []rune(value)
	if len(runes) <= n {
		return value
	}
	return string(runes[:n])
}
