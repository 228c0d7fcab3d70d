// Package classify derives topic labels, known entities and importance
// scores from article text. All vocabulary and score tables are plain
// data injected at construction, so tests can swap them out.
package classify

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// TopicRule maps a topic label to the substrings that select it.
// Rules are evaluated in order; the first hit wins.
type TopicRule struct {
	Label    string
	Keywords []string
}

// KeywordPattern is one thematic signal counted by the keyword boost,
// independent of which single topic label won.
type KeywordPattern struct {
	Label   string
	Pattern *regexp.Regexp
}

// Tables bundles every lookup the classifier needs.
type Tables struct {
	TopicRules      []TopicRule
	FallbackTopic   string
	Entities        []string
	TierScores      map[string]int
	DefaultTier     int
	TopicScores     map[string]int
	UnknownTopic    int
	KeywordPatterns []KeywordPattern
}

// DefaultTables returns the production vocabulary for stablecoin and
// crypto-regulation news.
func DefaultTables() Tables {
	return Tables{
		TopicRules: []TopicRule{
			{Label: "regulation", Keywords: []string{"regulation", "policy", "regulatory"}},
			{Label: "issuer", Keywords: []string{"issuer", "issuer reserves", "reserves", "company"}},
			{Label: "payments", Keywords: []string{"pay", "payment", "bank"}},
			{Label: "macro", Keywords: []string{"macro", "fed", "inflation"}},
			{Label: "aml", Keywords: []string{"aml", "enforcement", "crime", "fraud"}},
		},
		FallbackTopic: "defi",
		Entities: []string{
			"Tether", "USDT", "USDC", "Binance", "Coinbase", "SEC", "FDIC", "BIS", "IMF",
		},
		TierScores: map[string]int{
			"1": 35, "tier1": 35, "tier 1": 35, "official": 35,
			"2": 22, "tier2": 22, "tier 2": 22, "major": 22,
			"3": 14, "tier3": 14, "tier 3": 14,
		},
		DefaultTier: 8,
		TopicScores: map[string]int{
			"regulation":   32,
			"aml":          30,
			"issuer":       24,
			"payments":     18,
			"macro":        16,
			"defi":         15,
			"macro-policy": 12,
		},
		UnknownTopic: 10,
		KeywordPatterns: []KeywordPattern{
			{Label: "regulation", Pattern: regexp.MustCompile(`regulation|regulatory|policy|compliance|governance|directive|legal`)},
			{Label: "issuer", Pattern: regexp.MustCompile(`issuer|reserves?|mint|company|treasury|stablecoin`)},
			{Label: "payments", Pattern: regexp.MustCompile(`payment|wallet|transfer|bank|clearing|onchain|remittance`)},
			{Label: "macro", Pattern: regexp.MustCompile(`macro|inflation|fed|fomc|rate|monetary|central bank`)},
			{Label: "aml", Pattern: regexp.MustCompile(`aml|fraud|crime|enforcement|investigation|compliance|hack|security`)},
			{Label: "defi", Pattern: regexp.MustCompile(`defi|liquidity|peg|depeg|redeem|burn|mint|stablecoin|reserves`)},
		},
	}
}

// Importance label thresholds and boost caps.
const (
	highThreshold   = 72
	mediumThreshold = 44
	keywordStep     = 6
	maxKeywordBoost = 20
	entityStep      = 4
	maxEntityBoost  = 24
)

// Classifier owns immutable classification tables.
type Classifier struct {
	tables Tables
}

// New builds a classifier around the given tables.
func New(tables Tables) *Classifier {
	return &Classifier{tables: tables}
}

// NewDefault builds a classifier with the production tables.
func NewDefault() *Classifier {
	return New(DefaultTables())
}

// Topic picks the article topic from title+summary. Rule order is a
// deliberate tie-break: text mentioning both "regulation" and "payment"
// classifies as regulation.
func (c *Classifier) Topic(title, summary string) string {
	text := strings.ToLower(title + " " + summary)

	for _, rule := range c.tables.TopicRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(text, kw) {
				return rule.Label
			}
		}
	}

	return c.tables.FallbackTopic
}

// Entities returns vocabulary entries present verbatim in the text, in
// vocabulary order, deduplicated.
func (c *Classifier) Entities(text string) []string {
	found := lo.Filter(c.tables.Entities, func(entity string, _ int) bool {
		return strings.Contains(text, entity)
	})
	return lo.Uniq(found)
}

// TierScore maps a source tier string to its trust score.
func (c *Classifier) TierScore(tier string) int {
	if score, ok := c.tables.TierScores[strings.ToLower(tier)]; ok {
		return score
	}
	return c.tables.DefaultTier
}

// KeywordHits counts how many distinct thematic patterns appear in
// title+summary at all, regardless of the winning topic label.
func (c *Classifier) KeywordHits(title, summary string) int {
	text := strings.ToLower(title + "\n" + summary)

	hits := lo.Filter(c.tables.KeywordPatterns, func(p KeywordPattern, _ int) bool {
		return p.Pattern.MatchString(text)
	})
	return len(hits)
}

// Score computes the clamped 0..100 importance score and its label.
func (c *Classifier) Score(tier, topic string, entities []string, title, summary string) (int, string) {
	topicScore, ok := c.tables.TopicScores[topic]
	if !ok {
		topicScore = c.tables.UnknownTopic
	}

	keywordBoost := c.KeywordHits(title, summary) * keywordStep
	if keywordBoost > maxKeywordBoost {
		keywordBoost = maxKeywordBoost
	}

	entityBoost := len(entities) * entityStep
	if entityBoost > maxEntityBoost {
		entityBoost = maxEntityBoost
	}

	score := clamp(c.TierScore(tier) + topicScore + keywordBoost + entityBoost)
	return score, Label(score)
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Label buckets a score into low/medium/high.
func Label(score int) string {
	switch {
	case score >= highThreshold:
		return "high"
	case score >= mediumThreshold:
		return "medium"
	default:
		return "low"
	}
}

// Region maps a source region to the article/issue region.
func Region(sourceRegion string) string {
	if sourceRegion == "KR" {
		return "KR"
	}
	return "Global"
}

// Language infers the article language from its region.
func Language(region string) string {
	if region == "KR" {
		return "ko"
	}
	return "en"
}
