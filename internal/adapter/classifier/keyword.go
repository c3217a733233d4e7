package classifier

import (
	"context"
	"sort"
	"strings"

	"switchboard/internal/domain"
)

// Keyword is a trivial keyword-matching classifier used as the default so
// the daemon runs stand-alone. A real model implements domain.Classifier
// and replaces it at wiring time.
type Keyword struct {
	rules map[string][]string // label -> keywords
}

// NewKeyword creates a classifier from a label→keywords table.
func NewKeyword(rules map[string][]string) *Keyword {
	normalized := make(map[string][]string, len(rules))
	for label, words := range rules {
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				normalized[label] = append(normalized[label], w)
			}
		}
	}
	return &Keyword{rules: normalized}
}

// Classify scores each label by keyword hits. The best-scoring label wins;
// ties break alphabetically for determinism. No hit at all returns an empty
// label with zero confidence.
func (k *Keyword) Classify(_ context.Context, text string) (domain.Classification, error) {
	lower := strings.ToLower(text)

	labels := make([]string, 0, len(k.rules))
	for label := range k.rules {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	best := domain.Classification{}
	bestHits := 0
	for _, label := range labels {
		hits := 0
		for _, w := range k.rules[label] {
			if strings.Contains(lower, w) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			confidence := 0.6 + 0.1*float64(hits-1)
			if confidence > 0.95 {
				confidence = 0.95
			}
			best = domain.Classification{Label: label, Confidence: confidence}
		}
	}
	return best, nil
}

var _ domain.Classifier = (*Keyword)(nil)
