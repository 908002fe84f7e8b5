package repository

import (
	"context"
	"time"

	"recommendation-engine/driver"
	"recommendation-engine/domain"
)

// KV is the narrow key-value contract the repositories need. Satisfied by
// driver.KVStore; faked in tests.
type KV interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	ListRecent(ctx context.Context, namespace string, limit int) ([]driver.KVEntry, error)
	ListSince(ctx context.Context, namespace string, since time.Time) ([]driver.KVEntry, error)
	DeleteBefore(ctx context.Context, namespace string, before time.Time) (int64, error)
}

// DecisionRepository handles strategy decision persistence. Exactly one
// decision may occupy the active slot at any instant.
type DecisionRepository interface {
	GetActive(ctx context.Context) (*domain.StrategyDecision, error)
	Get(ctx context.Context, id string) (*domain.StrategyDecision, error)
	// SaveActive persists the decision and makes it the active one,
	// transitioning any previous active decision to the given status.
	SaveActive(ctx context.Context, decision *domain.StrategyDecision, previousStatus domain.DecisionStatus) error
	SetStatus(ctx context.Context, id string, status domain.DecisionStatus) error
	RecordOutcome(ctx context.Context, id string, outcome *domain.ExecutionOutcome) error
	ListRecent(ctx context.Context, limit int) ([]*domain.StrategyDecision, error)
	// Prune removes history beyond the keep most recent decisions.
	Prune(ctx context.Context, keep int) (int64, error)
}

// RefillStateRepository handles the durable admission-control state.
type RefillStateRepository interface {
	Get(ctx context.Context) (*domain.RefillState, error)
	// Save must complete the durable write before returning success.
	Save(ctx context.Context, state *domain.RefillState) error
	Reset(ctx context.Context) error
}

// UsageRecord is one external-call usage entry in the durable log.
type UsageRecord struct {
	Kind    string    `json:"kind"` // "decision" or "scoring"
	Tokens  int64     `json:"tokens"`
	CostUSD float64   `json:"cost_usd"`
	At      time.Time `json:"at"`
}

// RunRecord is one completed pipeline run in the durable log.
type RunRecord struct {
	RunID          string    `json:"run_id"`
	DecisionID     string    `json:"decision_id,omitempty"`
	ItemsProcessed int       `json:"items_processed"`
	ItemsProduced  int       `json:"items_produced"`
	CostUSD        float64   `json:"cost_usd"`
	Degraded       bool      `json:"degraded"`
	At             time.Time `json:"at"`
}

// UsageSummary aggregates usage over a time window.
type UsageSummary struct {
	Tokens         int64   `json:"tokens"`
	CostUSD        float64 `json:"cost_usd"`
	CallCount      int     `json:"call_count"`
	ItemsProcessed int     `json:"items_processed"`
	ItemsProduced  int     `json:"items_produced"`
}

// UsageRepository handles the usage/cost log feeding SystemContext and
// decision outcome recording.
type UsageRepository interface {
	AppendCall(ctx context.Context, record UsageRecord) error
	AppendRun(ctx context.Context, record RunRecord) error
	SummarizeSince(ctx context.Context, since time.Time) (*UsageSummary, error)
	PruneBefore(ctx context.Context, before time.Time) (int64, error)
}

// PoolSnapshot is the currently surfaced recommendation list.
type PoolSnapshot struct {
	Items      []domain.ScoredItem `json:"items"`
	DecisionID string              `json:"decision_id,omitempty"`
	Degraded   bool                `json:"degraded"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// PoolRepository persists the latest ranked recommendation list.
type PoolRepository interface {
	Get(ctx context.Context) (*PoolSnapshot, error)
	Save(ctx context.Context, snapshot *PoolSnapshot) error
}

// ContentSource supplies candidate items and telemetry from alt-backend.
// Satisfied by backendapi.Client.
type ContentSource interface {
	FetchCandidates(ctx context.Context, limit int) ([]domain.CandidateItem, error)
	FetchSources(ctx context.Context) ([]domain.SourceInfo, error)
	FetchProfile(ctx context.Context) (*domain.InterestProfile, error)
	FetchSupplyStats(ctx context.Context) (*domain.SupplyMetrics, error)
	FetchDemandStats(ctx context.Context) (*domain.DemandMetrics, error)
	FetchHistoryStats(ctx context.Context) (*domain.HistoryMetrics, error)
}
