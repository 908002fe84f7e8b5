package domain

import "time"

// DecisionStatus is the lifecycle state of a strategy decision.
type DecisionStatus string

const (
	DecisionStatusActive      DecisionStatus = "active"
	DecisionStatusCompleted   DecisionStatus = "completed"
	DecisionStatusInvalidated DecisionStatus = "invalidated"
)

// DecisionParams is the validated operating parameter set governing the
// scoring pipeline and the refill policy. All numeric fields are clamped
// into fixed ranges before a decision is persisted.
type DecisionParams struct {
	AnalysisBatchSize       int     `json:"analysisBatchSize"`
	ScoreThreshold          float64 `json:"scoreThreshold"`
	TargetPoolSize          int     `json:"targetPoolSize"`
	CooldownMinutes         int     `json:"cooldownMinutes"`
	AnalysisIntervalMinutes int     `json:"analysisIntervalMinutes"`
	ValidHours              int     `json:"validHours"`
	NextReviewHours         int     `json:"nextReviewHours"`
	RefillTriggerThreshold  float64 `json:"refillTriggerThreshold"`
	MaxDailyRefills         int     `json:"maxDailyRefills"`
	SemanticWorkers         int     `json:"semanticWorkers"`
	DailyCostCeilingUSD     float64 `json:"dailyCostCeilingUSD"`
}

// DefaultParams returns the fixed fallback parameters used when no strategy
// decision is active.
func DefaultParams() DecisionParams {
	return DecisionParams{
		AnalysisBatchSize:       5,
		ScoreThreshold:          7.0,
		TargetPoolSize:          5,
		CooldownMinutes:         30,
		AnalysisIntervalMinutes: 15,
		ValidHours:              24,
		NextReviewHours:         6,
		RefillTriggerThreshold:  0.3,
		MaxDailyRefills:         5,
		SemanticWorkers:         2,
		DailyCostCeilingUSD:     0.50,
	}
}

// Correction records a single out-of-range value that was clamped during
// decision validation. Corrections are expected noise from the decision
// capability and are reported, not treated as errors.
type Correction struct {
	Field   string  `json:"field"`
	Given   float64 `json:"given"`
	Applied float64 `json:"applied"`
}

// ExecutionOutcome is filled in after a decision's validity window elapses.
type ExecutionOutcome struct {
	ItemsProcessed int       `json:"items_processed"`
	ItemsProduced  int       `json:"items_produced"`
	ActualCostUSD  float64   `json:"actual_cost_usd"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// StrategyDecision is a time-boxed, validated parameter set together with
// the telemetry snapshot it was computed from. At most one decision is
// active at any instant; superseded decisions are retained as history.
type StrategyDecision struct {
	ID           string            `json:"id"`
	CreatedAt    time.Time         `json:"created_at"`
	ValidUntil   time.Time         `json:"valid_until"`
	NextReviewAt time.Time         `json:"next_review_at"`
	Status       DecisionStatus    `json:"status"`
	Context      SystemContext     `json:"context"`
	Params       DecisionParams    `json:"params"`
	Corrections  []Correction      `json:"corrections,omitempty"`
	Outcome      *ExecutionOutcome `json:"outcome,omitempty"`
}

// Expired reports whether the decision's validity window has elapsed.
func (d *StrategyDecision) Expired(now time.Time) bool {
	return !now.Before(d.ValidUntil)
}

// DueForReview reports whether the next scheduled review time has passed.
func (d *StrategyDecision) DueForReview(now time.Time) bool {
	return !now.Before(d.NextReviewAt)
}
