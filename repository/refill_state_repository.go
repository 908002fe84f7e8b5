package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"recommendation-engine/driver"
	"recommendation-engine/domain"
)

const (
	nsRefill     = "refill"
	keyPoolState = "pool"
)

type refillStateRepository struct {
	kv KV
}

// NewRefillStateRepository creates a KV-backed refill state repository.
func NewRefillStateRepository(kv KV) RefillStateRepository {
	return &refillStateRepository{kv: kv}
}

// Get returns the persisted refill state, or a zero state if none has been
// written yet.
func (r *refillStateRepository) Get(ctx context.Context) (*domain.RefillState, error) {
	raw, err := r.kv.Get(ctx, nsRefill, keyPoolState)
	if errors.Is(err, driver.ErrKeyNotFound) {
		return &domain.RefillState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read refill state: %w", err)
	}

	var state domain.RefillState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode refill state: %w", err)
	}
	return &state, nil
}

// Save writes the refill state. The quota invariant depends on this write
// completing before the caller reports success.
func (r *refillStateRepository) Save(ctx context.Context, state *domain.RefillState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode refill state: %w", err)
	}
	if err := r.kv.Set(ctx, nsRefill, keyPoolState, raw); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRefillStateNotPersisted, err)
	}
	return nil
}

// Reset clears all refill counters. Used for tests and manual recovery.
func (r *refillStateRepository) Reset(ctx context.Context) error {
	if err := r.kv.Delete(ctx, nsRefill, keyPoolState); err != nil {
		return fmt.Errorf("failed to reset refill state: %w", err)
	}
	return nil
}
