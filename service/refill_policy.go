// ABOUTME: This file implements admission control for recommendation pool refills
// ABOUTME: Enforces trigger threshold, cooldown and daily quota over durable state
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"recommendation-engine/logger"
	"recommendation-engine/repository"

	"recommendation-engine/domain"
)

// RefillPolicy gates pool refills. All checks read the durable state so the
// quota survives restarts; RecordRefill does not report success until the
// durable write has completed.
type RefillPolicy struct {
	mu      sync.Mutex
	state   repository.RefillStateRepository
	logger  *logger.ContextLogger
	nowFunc func() time.Time
}

// NewRefillPolicy creates a policy over the given durable state.
func NewRefillPolicy(state repository.RefillStateRepository, ctxLogger *logger.ContextLogger) *RefillPolicy {
	return &RefillPolicy{
		state:   state,
		logger:  ctxLogger,
		nowFunc: time.Now,
	}
}

// ShouldRefill reports whether a refill is admissible right now, with a
// human-readable reason when it is not. A refill triggers when the pool
// fill ratio is at or below the trigger threshold AND the cooldown has
// elapsed AND the daily quota is not exhausted.
func (p *RefillPolicy) ShouldRefill(ctx context.Context, currentSize, targetSize int, params domain.DecisionParams) (bool, string, error) {
	// A non-positive target or a negative current size means the pool
	// bookkeeping is broken or empty; treat it as needing content, but the
	// cooldown and quota checks below still bind.
	if targetSize > 0 && currentSize >= 0 {
		ratio := float64(currentSize) / float64(targetSize)
		if ratio > params.RefillTriggerThreshold {
			return false, fmt.Sprintf("pool ratio %.2f above trigger threshold %.2f", ratio, params.RefillTriggerThreshold), nil
		}
	}

	state, err := p.state.Get(ctx)
	if err != nil {
		return false, "", fmt.Errorf("failed to read refill state: %w", err)
	}

	now := p.nowFunc()
	count := state.DailyRefillCount
	if state.RolledOver(now) {
		// New calendar day; yesterday's count no longer binds.
		count = 0
	}

	if !state.LastRefillAt.IsZero() {
		cooldown := time.Duration(params.CooldownMinutes) * time.Minute
		if elapsed := now.Sub(state.LastRefillAt); elapsed < cooldown {
			return false, fmt.Sprintf("cooldown active, %s of %s elapsed", elapsed.Round(time.Second), cooldown), nil
		}
	}

	if count >= params.MaxDailyRefills {
		return false, fmt.Sprintf("daily quota exhausted, %d of %d refills used", count, params.MaxDailyRefills), nil
	}

	return true, "", nil
}

// RecordRefill commits one refill against the quota. The durable write must
// complete before this returns nil; on failure the caller must treat the
// refill as not having happened. Unless force is set, the cooldown and quota
// are re-validated under the mutex: two overlapping triggers may both have
// passed ShouldRefill before either recorded, and the second must observe
// the first's update rather than double-spend the quota.
func (p *RefillPolicy) RecordRefill(ctx context.Context, params domain.DecisionParams, force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, err := p.state.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to read refill state: %w", err)
	}

	now := p.nowFunc()
	if state.RolledOver(now) {
		state.DailyRefillCount = 0
		state.CurrentDate = now.Format(domain.RefillDateLayout)
	}

	if !force {
		if state.DailyRefillCount >= params.MaxDailyRefills {
			return fmt.Errorf("%w: daily quota exhausted, %d of %d refills used",
				domain.ErrRefillSuppressed, state.DailyRefillCount, params.MaxDailyRefills)
		}
		if !state.LastRefillAt.IsZero() {
			cooldown := time.Duration(params.CooldownMinutes) * time.Minute
			if elapsed := now.Sub(state.LastRefillAt); elapsed < cooldown {
				return fmt.Errorf("%w: concurrent refill recorded %s ago, cooldown %s",
					domain.ErrRefillSuppressed, elapsed.Round(time.Second), cooldown)
			}
		}
	}

	state.DailyRefillCount++
	state.LastRefillAt = now

	if err := p.state.Save(ctx, state); err != nil {
		return err
	}

	p.logger.WithContext(ctx).Info("refill recorded",
		"daily_refill_count", state.DailyRefillCount,
		"date", state.CurrentDate)
	return nil
}

// State returns the current durable refill state.
func (p *RefillPolicy) State(ctx context.Context) (*domain.RefillState, error) {
	return p.state.Get(ctx)
}

// Reset clears the refill counters. Operator escape hatch.
func (p *RefillPolicy) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Reset(ctx)
}
