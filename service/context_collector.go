// ABOUTME: This file assembles the immutable system telemetry snapshot per decision cycle
// ABOUTME: Aggregates supply, demand, budget, history and profile metrics with a short cache
package service

import (
	"context"
	"fmt"
	"time"

	"recommendation-engine/budget"
	"recommendation-engine/config"
	"recommendation-engine/logger"
	"recommendation-engine/repository"

	"recommendation-engine/domain"
)

const contextCacheKey = "engine:context:current"

// ContextCollector builds SystemContext snapshots. Every cycle gets a fresh
// snapshot; a short Redis cache absorbs closely spaced cycles without a full
// recompute. Snapshots are never mutated after collection.
type ContextCollector struct {
	source  repository.ContentSource
	usage   repository.UsageRepository
	pool    repository.PoolRepository
	budget  *budget.Tracker
	cache   SnapshotCache
	cfg     config.EngineConfig
	logger  *logger.ContextLogger
	nowFunc func() time.Time
}

// NewContextCollector creates a collector over the given telemetry sources.
func NewContextCollector(
	source repository.ContentSource,
	usage repository.UsageRepository,
	pool repository.PoolRepository,
	tracker *budget.Tracker,
	cache SnapshotCache,
	cfg config.EngineConfig,
	ctxLogger *logger.ContextLogger,
) *ContextCollector {
	return &ContextCollector{
		source:  source,
		usage:   usage,
		pool:    pool,
		budget:  tracker,
		cache:   cache,
		cfg:     cfg,
		logger:  ctxLogger,
		nowFunc: time.Now,
	}
}

// Collect assembles a fresh snapshot of system telemetry. poolCapacity is
// the active target pool size; the collector does not know about decisions.
// Any source failure fails the whole collection so a decision is never made
// on partial telemetry.
func (c *ContextCollector) Collect(ctx context.Context, poolCapacity int) (*domain.SystemContext, error) {
	log := c.logger.WithContext(ctx)

	if c.cache != nil {
		var cached domain.SystemContext
		hit, err := c.cache.Get(ctx, contextCacheKey, &cached)
		if err != nil {
			log.Warn("context cache read failed, recomputing", "error", err)
		} else if hit {
			log.Debug("context snapshot served from cache", "collected_at", cached.CollectedAt)
			return &cached, nil
		}
	}

	now := c.nowFunc()

	supply, err := c.source.FetchSupplyStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect supply metrics: %w", err)
	}

	demand, err := c.source.FetchDemandStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect demand metrics: %w", err)
	}

	history, err := c.source.FetchHistoryStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect history metrics: %w", err)
	}

	profile, err := c.source.FetchProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect interest profile: %w", err)
	}

	pool, err := c.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool snapshot: %w", err)
	}
	demand.PoolSize = len(pool.Items)
	demand.PoolCapacity = poolCapacity

	// The engine's own usage log is authoritative for processing counters;
	// the backend only knows about reads.
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	today, err := c.usage.SummarizeSince(ctx, startOfDay)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize today's usage: %w", err)
	}
	week, err := c.usage.SummarizeSince(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		return nil, fmt.Errorf("failed to summarize weekly usage: %w", err)
	}
	history.ProcessedCount7d = week.ItemsProcessed
	history.RecommendedCount7d = week.ItemsProduced

	usage := c.budget.Snapshot(now)

	snapshot := &domain.SystemContext{
		Supply: *supply,
		Demand: *demand,
		System: domain.SystemMetrics{
			TokensUsedToday:       usage.TokensUsed,
			TokensBudgetDaily:     c.budget.TokenBudget(),
			CostTodayUSD:          usage.CostUSD,
			ItemsProcessedToday:   today.ItemsProcessed,
			ItemsRecommendedToday: today.ItemsProduced,
		},
		History: *history,
		Profile: domain.ProfileMetrics{
			SampleCount:        profile.SampleCount,
			OnboardingComplete: profile.OnboardingComplete,
			Confidence:         profile.Confidence,
			TopTopics:          profile.TopTerms(5),
		},
		CollectedAt: now,
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, contextCacheKey, snapshot); err != nil {
			log.Warn("context cache write failed", "error", err)
		}
	}

	log.Info("system context collected",
		"active_sources", supply.ActiveSources,
		"candidate_pool", supply.CandidatePoolSize,
		"pool_size", demand.PoolSize,
		"tokens_used_today", usage.TokensUsed,
		"profile_confidence", profile.Confidence)

	return snapshot, nil
}
