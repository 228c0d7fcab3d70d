package ingest

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/stablewatch/ingest/internal/model"
	"github.com/stablewatch/ingest/internal/normalize"
)

// topicSignalRe recognizes topic labels that themselves carry a thematic
// keyword, feeding the small topic-signal bonus.
var topicSignalRe = regexp.MustCompile(`defi|stablecoin|peg|chain|exchange|issuer|regulat|payment|aml|fraud|macro|fed`)

// Jaccard is |A∩B| / |A∪B| over two deduplicated token slices, defined
// as 0 when either side is empty. The zero default means "no signal",
// not "perfect match".
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	inter := len(lo.Intersect(a, b))
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}

	return float64(inter) / float64(union)
}

// matchScore rates how well an active issue fits a new article:
//
//	topicBonus (42 same topic, 14 otherwise)
//	+ 34 × entity Jaccard
//	+ 30 × title-token Jaccard vs the issue's title+summary tokens
//	+ 12 × summary-token Jaccard vs the same
//	+ recency boost max(0, 16 - floor(ageHours/3))
//	+ 8 if the topic signal matches
//
// rounded to two decimals.
func matchScore(candidate model.Issue, topic string, titleTokens, summaryTokens, entities []string, now time.Time, lookback time.Duration) float64 {
	sameTopic := candidate.TopicLabel == topic

	topicBonus := 14.0
	if sameTopic {
		topicBonus = 42.0
	}

	lower := func(s string, _ int) string { return strings.ToLower(s) }
	candidateEntities := lo.Uniq(lo.Map(candidate.KeyEntities, lower))
	incomingEntities := lo.Uniq(lo.Map(entities, lower))
	entityOverlap := Jaccard(candidateEntities, incomingEntities)

	candidateTokens := normalize.TokenSet(candidate.Title + " " + candidate.IssueSummary)
	titleOverlap := Jaccard(titleTokens, candidateTokens)
	summaryOverlap := Jaccard(summaryTokens, candidateTokens)

	topicSignal := topicSignalRe.MatchString(strings.ToLower(candidate.TopicLabel))
	topicSignalMatch := sameTopic || (topicSignal && topic == candidate.TopicLabel)

	ageHours := lookback.Hours()
	if !candidate.LastSeenAt.IsZero() {
		ageHours = now.Sub(candidate.LastSeenAt).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
	}
	recencyBoost := 16 - math.Floor(ageHours/3)
	if recencyBoost < 0 {
		recencyBoost = 0
	}

	score := topicBonus +
		entityOverlap*34 +
		titleOverlap*30 +
		summaryOverlap*12 +
		recencyBoost
	if topicSignalMatch {
		score += 8
	}

	return math.Round(score*100) / 100
}

// Acceptance thresholds for attaching an article to its best-scoring
// candidate issue.
const (
	acceptScore          = 45
	acceptScoreSameTopic = 38
	acceptScoreShortSpan = 52
	shortSpanMaxHours    = 120
)

// acceptMatch decides whether the best-scoring candidate is good enough
// to attach to, instead of opening a new issue.
func acceptMatch(score float64, topic, candidateTopic string, lookback time.Duration) bool {
	if score >= acceptScore {
		return true
	}
	if score >= acceptScoreSameTopic && candidateTopic == topic {
		return true
	}
	return score >= acceptScoreShortSpan && lookback.Hours() <= shortSpanMaxHours
}
