// ABOUTME: This file implements the strategy decision control loop
// ABOUTME: Collects telemetry, calls the decision capability, clamps and persists decisions
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"recommendation-engine/budget"
	"recommendation-engine/config"
	"recommendation-engine/logger"
	"recommendation-engine/repository"
	"recommendation-engine/retry"

	"recommendation-engine/domain"
)

// StrategyService owns the single active decision slot. Decision generation
// is serialized by an internal mutex; readers see either the previous active
// decision or the new one, never an intermediate state.
type StrategyService struct {
	mu sync.Mutex

	decisions repository.DecisionRepository
	usage     repository.UsageRepository
	collector *ContextCollector
	augur     Augur
	budget    *budget.Tracker
	retrier   *retry.Retrier
	cfg       config.EngineConfig
	logger    *logger.ContextLogger
	nowFunc   func() time.Time
}

// NewStrategyService wires the decision control loop.
func NewStrategyService(
	decisions repository.DecisionRepository,
	usage repository.UsageRepository,
	collector *ContextCollector,
	augur Augur,
	tracker *budget.Tracker,
	retrier *retry.Retrier,
	cfg config.EngineConfig,
	ctxLogger *logger.ContextLogger,
) *StrategyService {
	return &StrategyService{
		decisions: decisions,
		usage:     usage,
		collector: collector,
		augur:     augur,
		budget:    tracker,
		retrier:   retrier,
		cfg:       cfg,
		logger:    ctxLogger,
		nowFunc:   time.Now,
	}
}

// GetCurrentDecision returns the active decision. A decision found expired
// is completed on read, with its execution outcome recorded, before
// domain.ErrNoActiveDecision is returned.
func (s *StrategyService) GetCurrentDecision(ctx context.Context) (*domain.StrategyDecision, error) {
	decision, err := s.decisions.GetActive(ctx)
	if err != nil {
		return nil, err
	}

	if decision.Expired(s.nowFunc()) {
		if err := s.completeDecision(ctx, decision); err != nil {
			s.logger.WithContext(ctx).Error("failed to complete expired decision",
				"decision_id", decision.ID, "error", err)
		}
		return nil, domain.ErrNoActiveDecision
	}
	return decision, nil
}

// CurrentParams returns the active decision's parameters, falling back to
// the fixed defaults when no decision is active. The engine never stalls
// for want of a decision.
func (s *StrategyService) CurrentParams(ctx context.Context) domain.DecisionParams {
	decision, err := s.GetCurrentDecision(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoActiveDecision) {
			s.logger.WithContext(ctx).Warn("falling back to default params", "error", err)
		}
		return domain.DefaultParams()
	}
	return decision.Params
}

// GenerateDecision runs one full decision cycle: collect telemetry, call
// the decision capability, validate and clamp the response, and atomically
// install the result as the single active decision. Concurrent calls are
// serialized; last write wins on the active slot.
func (s *StrategyService) GenerateDecision(ctx context.Context) (*domain.StrategyDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logger.WithContext(ctx)

	if !s.augur.Available() {
		return nil, domain.ErrDecisionCapabilityUnavailable
	}

	// Completing an expired predecessor happens before collection so the
	// snapshot sees post-completion state.
	previous, err := s.GetCurrentDecision(ctx)
	if err != nil && !errors.Is(err, domain.ErrNoActiveDecision) {
		return nil, err
	}

	capacity := domain.DefaultParams().TargetPoolSize
	if previous != nil {
		capacity = previous.Params.TargetPoolSize
	}

	snapshot, err := s.collector.Collect(ctx, capacity)
	if err != nil {
		return nil, fmt.Errorf("decision cycle aborted: %w", err)
	}

	contextJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize system context: %w", err)
	}

	var raw json.RawMessage
	var callUsage repository.UsageRecord
	err = s.retrier.Do(ctx, func() error {
		result, usage, callErr := s.augur.Decide(ctx, contextJSON)
		now := s.nowFunc()
		if usage.TotalTokens() > 0 {
			// Failed calls still burned tokens; account for them.
			s.budget.Record(now, usage.TotalTokens(), usage.CostUSD)
			callUsage = repository.UsageRecord{
				Kind:    "decision",
				Tokens:  usage.TotalTokens(),
				CostUSD: usage.CostUSD,
				At:      now,
			}
			if err := s.usage.AppendCall(ctx, callUsage); err != nil {
				log.Warn("failed to append decision usage record", "error", err)
			}
		}
		if callErr != nil {
			return callErr
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decision call failed: %w", err)
	}

	params, corrections, err := ValidateParams(raw)
	if err != nil {
		return nil, err
	}
	for _, c := range corrections {
		log.Warn("decision parameter clamped",
			"field", c.Field, "given", c.Given, "applied", c.Applied)
	}

	now := s.nowFunc()
	decision := &domain.StrategyDecision{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		ValidUntil:   now.Add(time.Duration(params.ValidHours) * time.Hour),
		NextReviewAt: now.Add(time.Duration(params.NextReviewHours) * time.Hour),
		Status:       domain.DecisionStatusActive,
		Context:      *snapshot,
		Params:       params,
		Corrections:  corrections,
	}

	// A predecessor replaced before its window elapsed is invalidated, not
	// completed; completion is reserved for windows that ran their course.
	if err := s.decisions.SaveActive(ctx, decision, domain.DecisionStatusInvalidated); err != nil {
		return nil, fmt.Errorf("failed to persist decision: %w", err)
	}

	if _, err := s.decisions.Prune(ctx, s.cfg.DecisionHistoryLimit); err != nil {
		log.Warn("decision history pruning failed", "error", err)
	}
	if s.cfg.UsageRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -s.cfg.UsageRetentionDays)
		if _, err := s.usage.PruneBefore(ctx, cutoff); err != nil {
			log.Warn("usage log pruning failed", "error", err)
		}
	}

	log.Info("strategy decision installed",
		"decision_id", decision.ID,
		"valid_until", decision.ValidUntil,
		"next_review_at", decision.NextReviewAt,
		"corrections", len(corrections),
		"batch_size", params.AnalysisBatchSize,
		"score_threshold", params.ScoreThreshold,
		"target_pool_size", params.TargetPoolSize)

	return decision, nil
}

// InvalidateActive demotes the active decision without replacing it. Used
// by operators to force the next cycle back to defaults.
func (s *StrategyService) InvalidateActive(ctx context.Context) error {
	decision, err := s.decisions.GetActive(ctx)
	if err != nil {
		return err
	}
	return s.decisions.SetStatus(ctx, decision.ID, domain.DecisionStatusInvalidated)
}

// History returns the most recent decisions, newest first.
func (s *StrategyService) History(ctx context.Context, limit int) ([]*domain.StrategyDecision, error) {
	return s.decisions.ListRecent(ctx, limit)
}

// ReviewTick is the periodic control-loop entry point. It generates a new
// decision when none is active or the scheduled review time has passed, and
// returns the interval until the next check.
func (s *StrategyService) ReviewTick(ctx context.Context) (time.Duration, error) {
	log := s.logger.WithContext(ctx)

	decision, err := s.GetCurrentDecision(ctx)
	switch {
	case errors.Is(err, domain.ErrNoActiveDecision):
		decision = nil
	case err != nil:
		return s.cfg.ReviewTickInterval, err
	}

	if decision != nil && !decision.DueForReview(s.nowFunc()) {
		return s.nextTickInterval(decision), nil
	}

	generated, err := s.GenerateDecision(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrDecisionCapabilityUnavailable) {
			// Not an error state; the engine runs on defaults until the
			// capability comes back.
			log.Debug("decision capability unavailable, staying on current params")
			return s.cfg.ReviewTickInterval, nil
		}
		return s.cfg.ReviewTickInterval, err
	}
	return s.nextTickInterval(generated), nil
}

// nextTickInterval derives the check cadence from the decision itself so
// the loop follows the decided analysis interval.
func (s *StrategyService) nextTickInterval(d *domain.StrategyDecision) time.Duration {
	interval := time.Duration(d.Params.AnalysisIntervalMinutes) * time.Minute
	if interval <= 0 {
		return s.cfg.ReviewTickInterval
	}
	return interval
}

// completeDecision records the execution outcome over the decision's
// lifetime and transitions it to completed.
func (s *StrategyService) completeDecision(ctx context.Context, d *domain.StrategyDecision) error {
	summary, err := s.usage.SummarizeSince(ctx, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to summarize usage for outcome: %w", err)
	}

	outcome := &domain.ExecutionOutcome{
		ItemsProcessed: summary.ItemsProcessed,
		ItemsProduced:  summary.ItemsProduced,
		ActualCostUSD:  summary.CostUSD,
		RecordedAt:     s.nowFunc(),
	}
	if err := s.decisions.RecordOutcome(ctx, d.ID, outcome); err != nil {
		return err
	}
	if err := s.decisions.SetStatus(ctx, d.ID, domain.DecisionStatusCompleted); err != nil {
		return err
	}

	s.logger.WithContext(ctx).Info("decision completed",
		"decision_id", d.ID,
		"items_processed", outcome.ItemsProcessed,
		"items_produced", outcome.ItemsProduced,
		"actual_cost_usd", outcome.ActualCostUSD)
	return nil
}
