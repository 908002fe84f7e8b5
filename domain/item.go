package domain

import (
	"sort"
	"time"
)

// CandidateItem is a raw item supplied by the content source. The engine
// does not fetch or parse feeds itself. ExternalConfidence is the source's
// own classification confidence in [0,1]; nil when the source supplied none.
type CandidateItem struct {
	ID                 string    `json:"id"`
	SourceID           string    `json:"source_id"`
	Title              string    `json:"title"`
	Link               string    `json:"link"`
	Content            string    `json:"content,omitempty"`
	ExternalConfidence *float64  `json:"external_confidence,omitempty"`
	PublishedAt        time.Time `json:"published_at"`
}

// ColdStartScores holds the multi-signal sub-scores produced by the
// cold-start ranker. All sub-scores are in [0,1].
type ColdStartScores struct {
	ClusterScore        float64 `json:"cluster_score"`
	SourceTrustScore    float64 `json:"source_trust_score"`
	ContentQualityScore float64 `json:"content_quality_score"`
	FreshnessScore      float64 `json:"freshness_score"`
}

// ScoredItem is a candidate item annotated by the scoring pipeline. Scored
// items are ephemeral and recomputed per run; only outcomes are persisted.
type ScoredItem struct {
	CandidateItem

	LexicalScore  float64          `json:"lexical_score"`
	SemanticScore *float64         `json:"semantic_score,omitempty"`
	Topics        []string         `json:"topics,omitempty"`
	ColdStart     *ColdStartScores `json:"cold_start,omitempty"`
	FinalScore    float64          `json:"final_score"`
	Rationale     string           `json:"rationale,omitempty"`
}

// SourceInfo carries per-source metadata used by the cold-start ranker.
// QualityRating is 0-100; nil means the source has not been rated yet.
type SourceInfo struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	QualityRating *float64 `json:"quality_rating,omitempty"`
}

// InterestProfile is the personalized term-weight profile driving the
// lexical scorer. Confidence is 0-100.
type InterestProfile struct {
	TermWeights        map[string]float64 `json:"term_weights"`
	SampleCount        int                `json:"sample_count"`
	Confidence         int                `json:"confidence"`
	OnboardingComplete bool               `json:"onboarding_complete"`
}

// TopTerms returns up to n profile terms ordered by descending weight.
func (p *InterestProfile) TopTerms(n int) []string {
	type tw struct {
		term   string
		weight float64
	}
	terms := make([]tw, 0, len(p.TermWeights))
	for t, w := range p.TermWeights {
		terms = append(terms, tw{t, w})
	}
	sort.SliceStable(terms, func(i, j int) bool { return terms[i].weight > terms[j].weight })
	if n > len(terms) {
		n = len(terms)
	}
	out := make([]string, 0, n)
	for _, t := range terms[:n] {
		out = append(out, t.term)
	}
	return out
}
