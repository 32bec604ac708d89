package research

import (
	"context"
	"math"
	"regexp"
	"strings"
)

// Scorer grades one section's content on a 0..100 scale and names what is
// missing. Implementations must be deterministic for identical input and must
// reserve 0 for empty content.
type Scorer interface {
	Score(ctx context.Context, kind SectionKind, content string) (int, []string, error)
}

var numberPattern = regexp.MustCompile(`[0-9][0-9,.]*\s*(%|percent|million|billion|bn|m\b|k\b)?`)

// coverage terms a complete section is expected to touch, per kind
var coverageTerms = map[SectionKind][]string{
	SectionFinancial:   {"revenue", "profit", "growth"},
	SectionMarket:      {"market", "share", "trend"},
	SectionCompetitive: {"competitor", "position", "advantage"},
	SectionNews:        {"announce", "recent", "report"},
}

// HeuristicScorer is the default rubric: a pure function of the content, so
// refinement loops converge deterministically.
type HeuristicScorer struct{}

func NewHeuristicScorer() *HeuristicScorer { return &HeuristicScorer{} }

// Score grades content against the kind's rubric. Empty content scores 0;
// anything non-empty scores at least 1.
func (s *HeuristicScorer) Score(_ context.Context, kind SectionKind, content string) (int, []string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return 0, []string{"no content produced"}, nil
	}

	score := 40
	var deficiencies []string

	if len(trimmed) >= 400 {
		score += 15
	} else {
		deficiencies = append(deficiencies, "section too brief; expand coverage")
	}

	if numberPattern.MatchString(trimmed) {
		score += 15
	} else {
		deficiencies = append(deficiencies, "missing quantitative data")
	}

	lower := strings.ToLower(trimmed)
	terms := coverageTerms[kind]
	perTerm := 0
	if len(terms) > 0 {
		perTerm = 30 / len(terms)
	}
	for _, term := range terms {
		if strings.Contains(lower, term) {
			score += perTerm
		} else {
			deficiencies = append(deficiencies, "missing coverage of "+term)
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 1 {
		score = 1
	}
	return score, deficiencies, nil
}

// AggregateScore folds per-section scores into one task-level score using the
// given weights. Sections without an explicit weight count as 1.0. The result
// is rounded half up and clamped to 0..100.
func AggregateScore(scores map[SectionKind]int, weights map[SectionKind]float64) int {
	if len(scores) == 0 {
		return 0
	}
	var weighted, total float64
	for kind, score := range scores {
		w, ok := weights[kind]
		if !ok || w <= 0 {
			w = 1.0
		}
		weighted += float64(score) * w
		total += w
	}
	if total == 0 {
		return 0
	}
	agg := int(math.Round(weighted / total))
	if agg > 100 {
		agg = 100
	}
	if agg < 0 {
		agg = 0
	}
	return agg
}
