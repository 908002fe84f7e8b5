// ABOUTME: This file implements decision parameter validation via range clamping
// ABOUTME: Out-of-range values are corrected silently and reported, never rejected
package service

import (
	"encoding/json"
	"fmt"

	"recommendation-engine/domain"
)

// Hard parameter bounds. Out-of-range values from the decision capability
// are expected noise; they are clamped into these ranges and reported as
// corrections, not errors.
const (
	minAnalysisBatchSize = 1
	maxAnalysisBatchSize = 20

	minScoreThreshold = 6.0
	maxScoreThreshold = 8.5

	minTargetPoolSize = 3
	maxTargetPoolSize = 10

	minCooldownMinutes = 30
	maxCooldownMinutes = 180

	minAnalysisIntervalMinutes = 1
	maxAnalysisIntervalMinutes = 60

	minValidHours = 12
	maxValidHours = 48

	minNextReviewHours = 1
	maxNextReviewHours = 24

	minRefillTriggerThreshold = 0.1
	maxRefillTriggerThreshold = 0.6

	minMaxDailyRefills = 1
	maxMaxDailyRefills = 10

	minSemanticWorkers = 1
	maxSemanticWorkers = 8

	minDailyCostCeilingUSD = 0.05
	maxDailyCostCeilingUSD = 5.00
)

// rawDecisionParams mirrors domain.DecisionParams with pointer fields so a
// missing field can be told apart from a zero.
type rawDecisionParams struct {
	AnalysisBatchSize       *float64 `json:"analysisBatchSize"`
	ScoreThreshold          *float64 `json:"scoreThreshold"`
	TargetPoolSize          *float64 `json:"targetPoolSize"`
	CooldownMinutes         *float64 `json:"cooldownMinutes"`
	AnalysisIntervalMinutes *float64 `json:"analysisIntervalMinutes"`
	ValidHours              *float64 `json:"validHours"`
	NextReviewHours         *float64 `json:"nextReviewHours"`
	RefillTriggerThreshold  *float64 `json:"refillTriggerThreshold"`
	MaxDailyRefills         *float64 `json:"maxDailyRefills"`
	SemanticWorkers         *float64 `json:"semanticWorkers"`
	DailyCostCeilingUSD     *float64 `json:"dailyCostCeilingUSD"`
}

// ValidateParams parses a raw decision response into a clamped parameter
// set. Missing fields fall back to defaults without a correction; present
// but out-of-range fields are clamped and reported. A response that is not
// a JSON object is a hard failure for the cycle.
func ValidateParams(raw json.RawMessage) (domain.DecisionParams, []domain.Correction, error) {
	var parsed rawDecisionParams
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.DecisionParams{}, nil, fmt.Errorf("%w: %v", domain.ErrDecisionResponseMalformed, err)
	}

	defaults := domain.DefaultParams()
	var corrections []domain.Correction

	clampFloat := func(field string, given *float64, fallback, min, max float64) float64 {
		if given == nil {
			return fallback
		}
		v := *given
		if v < min {
			corrections = append(corrections, domain.Correction{Field: field, Given: v, Applied: min})
			return min
		}
		if v > max {
			corrections = append(corrections, domain.Correction{Field: field, Given: v, Applied: max})
			return max
		}
		return v
	}
	clampInt := func(field string, given *float64, fallback, min, max int) int {
		return int(clampFloat(field, given, float64(fallback), float64(min), float64(max)))
	}

	params := domain.DecisionParams{
		AnalysisBatchSize:       clampInt("analysisBatchSize", parsed.AnalysisBatchSize, defaults.AnalysisBatchSize, minAnalysisBatchSize, maxAnalysisBatchSize),
		ScoreThreshold:          clampFloat("scoreThreshold", parsed.ScoreThreshold, defaults.ScoreThreshold, minScoreThreshold, maxScoreThreshold),
		TargetPoolSize:          clampInt("targetPoolSize", parsed.TargetPoolSize, defaults.TargetPoolSize, minTargetPoolSize, maxTargetPoolSize),
		CooldownMinutes:         clampInt("cooldownMinutes", parsed.CooldownMinutes, defaults.CooldownMinutes, minCooldownMinutes, maxCooldownMinutes),
		AnalysisIntervalMinutes: clampInt("analysisIntervalMinutes", parsed.AnalysisIntervalMinutes, defaults.AnalysisIntervalMinutes, minAnalysisIntervalMinutes, maxAnalysisIntervalMinutes),
		ValidHours:              clampInt("validHours", parsed.ValidHours, defaults.ValidHours, minValidHours, maxValidHours),
		NextReviewHours:         clampInt("nextReviewHours", parsed.NextReviewHours, defaults.NextReviewHours, minNextReviewHours, maxNextReviewHours),
		RefillTriggerThreshold:  clampFloat("refillTriggerThreshold", parsed.RefillTriggerThreshold, defaults.RefillTriggerThreshold, minRefillTriggerThreshold, maxRefillTriggerThreshold),
		MaxDailyRefills:         clampInt("maxDailyRefills", parsed.MaxDailyRefills, defaults.MaxDailyRefills, minMaxDailyRefills, maxMaxDailyRefills),
		SemanticWorkers:         clampInt("semanticWorkers", parsed.SemanticWorkers, defaults.SemanticWorkers, minSemanticWorkers, maxSemanticWorkers),
		DailyCostCeilingUSD:     clampFloat("dailyCostCeilingUSD", parsed.DailyCostCeilingUSD, defaults.DailyCostCeilingUSD, minDailyCostCeilingUSD, maxDailyCostCeilingUSD),
	}

	// nextReviewAt must never land after validUntil.
	if params.NextReviewHours > params.ValidHours {
		corrections = append(corrections, domain.Correction{
			Field:   "nextReviewHours",
			Given:   float64(params.NextReviewHours),
			Applied: float64(params.ValidHours),
		})
		params.NextReviewHours = params.ValidHours
	}

	return params, corrections, nil
}
