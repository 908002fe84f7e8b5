// ABOUTME: This file implements the cold-start ranker for low-confidence profiles
// ABOUTME: Weighted multi-signal scoring over cluster, source trust, quality and freshness
package service

import (
	"fmt"
	"sort"
	"time"

	"recommendation-engine/domain"
)

// Signal weights. They sum to 1.0 so the final score stays in [0,1].
const (
	weightCluster        = 0.35
	weightSourceTrust    = 0.25
	weightContentQuality = 0.20
	weightFreshness      = 0.20
)

// Cluster scoring needs enough breadth to mean anything; below these
// minimums the signal is withheld and every item's cluster score is 0.
const (
	clusterMinItems   = 5
	clusterMinSources = 2
)

const neutralSignal = 0.5

// ColdStartRanker ranks candidates without a usable interest profile. It
// relies only on signals available before the user has any history.
type ColdStartRanker struct {
	minScore float64
	nowFunc  func() time.Time
}

// NewColdStartRanker creates a ranker with the given minimum final score.
func NewColdStartRanker(minScore float64) *ColdStartRanker {
	return &ColdStartRanker{minScore: minScore, nowFunc: time.Now}
}

// Rank scores and orders candidates, dropping anything below the minimum
// score and truncating to limit. Ties are broken by recency.
func (r *ColdStartRanker) Rank(items []domain.CandidateItem, sources []domain.SourceInfo, limit int) []domain.ScoredItem {
	if len(items) == 0 {
		return nil
	}

	sourceByID := make(map[string]domain.SourceInfo, len(sources))
	for _, s := range sources {
		sourceByID[s.ID] = s
	}

	now := r.nowFunc()
	clusters := clusterScores(items)

	ranked := make([]domain.ScoredItem, 0, len(items))
	for i, item := range items {
		scores := domain.ColdStartScores{
			ClusterScore:        clusters[i],
			SourceTrustScore:    sourceTrustScore(sourceByID, item.SourceID),
			ContentQualityScore: contentQualityScore(&item),
			FreshnessScore:      FreshnessScore(now, item.PublishedAt),
		}

		final := scores.ClusterScore*weightCluster +
			scores.SourceTrustScore*weightSourceTrust +
			scores.ContentQualityScore*weightContentQuality +
			scores.FreshnessScore*weightFreshness
		if final < r.minScore {
			continue
		}

		cs := scores
		ranked = append(ranked, domain.ScoredItem{
			CandidateItem: item,
			ColdStart:     &cs,
			FinalScore:    final,
			Rationale: fmt.Sprintf("cold-start cluster=%.2f trust=%.2f quality=%.2f fresh=%.2f",
				scores.ClusterScore, scores.SourceTrustScore, scores.ContentQualityScore, scores.FreshnessScore),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].FinalScore != ranked[j].FinalScore {
			return ranked[i].FinalScore > ranked[j].FinalScore
		}
		return ranked[i].PublishedAt.After(ranked[j].PublishedAt)
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// clusterScores estimates how central each item is to the topics the whole
// candidate set is covering: items whose terms recur across many other
// items score higher. With too few items or sources the signal is noise
// and contributes nothing.
func clusterScores(items []domain.CandidateItem) []float64 {
	scores := make([]float64, len(items))

	distinctSources := make(map[string]struct{})
	for _, item := range items {
		distinctSources[item.SourceID] = struct{}{}
	}
	if len(items) < clusterMinItems || len(distinctSources) < clusterMinSources {
		return scores
	}

	docFreq := make(map[string]int)
	itemTokens := make([]map[string]struct{}, len(items))
	for i, item := range items {
		tokens := tokenize(item.Title)
		itemTokens[i] = tokens
		for t := range tokens {
			docFreq[t]++
		}
	}

	for i, tokens := range itemTokens {
		if len(tokens) == 0 {
			continue
		}
		var sum float64
		for t := range tokens {
			sum += float64(docFreq[t]) / float64(len(items))
		}
		scores[i] = sum / float64(len(tokens))
	}
	return scores
}

func sourceTrustScore(sources map[string]domain.SourceInfo, sourceID string) float64 {
	src, ok := sources[sourceID]
	if !ok || src.QualityRating == nil {
		return neutralSignal
	}
	rating := *src.QualityRating / 100.0
	if rating < 0 {
		return 0
	}
	if rating > 1 {
		return 1
	}
	return rating
}

// contentQualityScore starts from a neutral base and adds structural
// signals: title quality, body length tiers, and the source's own
// classification confidence when one was supplied. Capped at 1.0.
func contentQualityScore(item *domain.CandidateItem) float64 {
	score := neutralSignal

	score += 0.3 * titleQualitySignal(item.Title)

	switch length := len(item.Content); {
	case length > 2000:
		score += 0.2
	case length > 500:
		score += 0.1
	}

	if item.ExternalConfidence != nil {
		confidence := *item.ExternalConfidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		score += 0.2 * confidence
	}

	if score > 1 {
		return 1
	}
	return score
}

// titleQualitySignal is a cheap lexical proxy: descriptive multi-word
// titles score higher than bare fragments.
func titleQualitySignal(title string) float64 {
	words := len(tokenize(title))
	signal := float64(words) / 6.0
	if signal > 1 {
		return 1
	}
	return signal
}

// FreshnessScore decays piecewise with article age. Future timestamps are
// clock skew from upstream feeds and count as fully fresh.
func FreshnessScore(now, publishedAt time.Time) float64 {
	age := now.Sub(publishedAt)
	switch {
	case age <= 24*time.Hour:
		return 1.0
	case age <= 72*time.Hour:
		h := age.Hours() - 24
		return 0.8 - h/48*0.3 // 0.8 down to 0.5 over 24-72h
	case age <= 168*time.Hour:
		h := age.Hours() - 72
		return 0.5 - h/96*0.3 // 0.5 down to 0.2 over 72-168h
	case age <= 336*time.Hour:
		return 0.2
	default:
		return 0.1
	}
}
