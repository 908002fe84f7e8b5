package domain

import "time"

// SupplyMetrics describes how much content is flowing into the system.
type SupplyMetrics struct {
	ActiveSources     int `json:"activeSources"`
	DailyNewItems     int `json:"dailyNewItems"`
	RawPoolSize       int `json:"rawPoolSize"`
	CandidatePoolSize int `json:"candidatePoolSize"`
}

// DemandMetrics describes how fast the user consumes recommendations.
type DemandMetrics struct {
	DailyReadCount int     `json:"dailyReadCount"`
	AvgReadSpeed   float64 `json:"avgReadSpeed"`
	DismissRate    float64 `json:"dismissRate"`
	LikeRate       float64 `json:"likeRate"`
	PoolSize       int     `json:"poolSize"`
	PoolCapacity   int     `json:"poolCapacity"`
}

// SystemMetrics describes resource consumption for the current calendar day.
type SystemMetrics struct {
	TokensUsedToday     int64   `json:"tokensUsedToday"`
	TokensBudgetDaily   int64   `json:"tokensBudgetDaily"`
	CostTodayUSD        float64 `json:"costTodayUSD"`
	ItemsProcessedToday int     `json:"itemsProcessedToday"`
	ItemsRecommendedToday int   `json:"itemsRecommendedToday"`
}

// HistoryMetrics aggregates the trailing seven days of activity.
type HistoryMetrics struct {
	ReadCount7d        int `json:"readCount7d"`
	RecommendedCount7d int `json:"recommendedCount7d"`
	ProcessedCount7d   int `json:"processedCount7d"`
}

// ProfileMetrics describes how much the interest profile can be trusted.
type ProfileMetrics struct {
	SampleCount        int      `json:"sampleCount"`
	OnboardingComplete bool     `json:"onboardingComplete"`
	Confidence         int      `json:"confidence"` // 0-100
	TopTopics          []string `json:"topTopics"`
}

// SystemContext is an immutable snapshot of system telemetry taken at the
// start of a decision cycle. It is created fresh per cycle, never mutated,
// and retained only as an attribute of the StrategyDecision that used it.
type SystemContext struct {
	Supply      SupplyMetrics  `json:"supply"`
	Demand      DemandMetrics  `json:"demand"`
	System      SystemMetrics  `json:"system"`
	History     HistoryMetrics `json:"history"`
	Profile     ProfileMetrics `json:"profile"`
	CollectedAt time.Time      `json:"collectedAt"`
}
