// ABOUTME: This file orchestrates pool refills end to end
// ABOUTME: Admission check, pipeline run, durable quota commit, pool swap, event publish
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recommendation-engine/config"
	"recommendation-engine/logger"
	"recommendation-engine/repository"

	"recommendation-engine/domain"
)

// RefillService drives the recommendation pool: it decides when a refill is
// admissible, runs the scoring pipeline, and atomically swaps the pool
// snapshot. The quota is committed durably before the new pool becomes
// visible, so a crash in between under-delivers rather than over-spends.
type RefillService struct {
	strategy  *StrategyService
	policy    *RefillPolicy
	pipeline  *ScoringPipeline
	pool      repository.PoolRepository
	publisher EventPublisher
	cfg       config.EngineConfig
	logger    *logger.ContextLogger
	nowFunc   func() time.Time
}

// NewRefillService wires the refill orchestration.
func NewRefillService(
	strategy *StrategyService,
	policy *RefillPolicy,
	pipeline *ScoringPipeline,
	pool repository.PoolRepository,
	publisher EventPublisher,
	cfg config.EngineConfig,
	ctxLogger *logger.ContextLogger,
) *RefillService {
	return &RefillService{
		strategy:  strategy,
		policy:    policy,
		pipeline:  pipeline,
		pool:      pool,
		publisher: publisher,
		cfg:       cfg,
		logger:    ctxLogger,
		nowFunc:   time.Now,
	}
}

// Pool returns the current pool snapshot.
func (s *RefillService) Pool(ctx context.Context) (*repository.PoolSnapshot, error) {
	return s.pool.Get(ctx)
}

// Refill runs one refill attempt. With force false the admission policy is
// consulted first and a declined refill returns domain.ErrRefillSuppressed
// wrapped with the reason; force skips the threshold and cooldown checks
// but still counts against the daily quota.
func (s *RefillService) Refill(ctx context.Context, force bool) (*RunResult, error) {
	log := s.logger.WithContext(ctx)

	params := s.strategy.CurrentParams(ctx)
	decisionID := ""
	if decision, err := s.strategy.GetCurrentDecision(ctx); err == nil {
		decisionID = decision.ID
		ctx = logger.WithDecision(ctx, decisionID)
	}

	snapshot, err := s.pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	if !force {
		ok, reason, err := s.policy.ShouldRefill(ctx, len(snapshot.Items), params.TargetPoolSize, params)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrRefillSuppressed, reason)
		}
	}

	result, err := s.pipeline.Run(ctx, params, nil)
	if err != nil {
		return nil, err
	}

	// Quota first: if this write fails the refill never happened, and the
	// freshly scored items are discarded rather than risking an over-quota
	// pool swap after a crash. RecordRefill re-validates admission under its
	// own mutex, so a concurrent refill that won the race suppresses this one.
	if err := s.policy.RecordRefill(ctx, params, force); err != nil {
		return nil, err
	}

	newSnapshot := &repository.PoolSnapshot{
		Items:      result.Items,
		DecisionID: decisionID,
		Degraded:   result.Degraded,
		UpdatedAt:  s.nowFunc(),
	}
	if err := s.pool.Save(ctx, newSnapshot); err != nil {
		return nil, fmt.Errorf("failed to swap pool snapshot: %w", err)
	}

	if s.publisher != nil {
		event := map[string]any{
			"run_id":      result.RunID,
			"mode":        result.Mode,
			"pool_size":   len(result.Items),
			"degraded":    result.Degraded,
			"decision_id": decisionID,
		}
		if err := s.publisher.Publish(ctx, "recommendations.refilled", event); err != nil {
			log.Warn("failed to publish refill event", "error", err)
		}
	}

	log.Info("pool refilled",
		"run_id", result.RunID,
		"mode", result.Mode,
		"pool_size", len(result.Items),
		"items_processed", result.ItemsProcessed,
		"items_scored", result.ItemsScored,
		"degraded", result.Degraded,
		"cost_usd", result.CostUSD,
		"duration_ms", result.Duration.Milliseconds())

	return result, nil
}

// RefillTick is the periodic refill entry point for the job runner. A
// suppressed or empty-source refill is a normal outcome, not a job failure.
func (s *RefillService) RefillTick(ctx context.Context) (time.Duration, error) {
	_, err := s.Refill(ctx, false)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRefillSuppressed):
		s.logger.WithContext(ctx).Debug("refill suppressed", "reason", err)
	case errors.Is(err, domain.ErrNoCandidates):
		s.logger.WithContext(ctx).Info("refill skipped, no candidates available")
	default:
		return s.cfg.RefillTickInterval, err
	}
	return s.cfg.RefillTickInterval, nil
}
