package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"recommendation-engine/driver"
)

const (
	nsPool         = "pool"
	keyPoolCurrent = "current"
)

type poolRepository struct {
	kv KV
}

// NewPoolRepository creates a KV-backed pool snapshot repository.
func NewPoolRepository(kv KV) PoolRepository {
	return &poolRepository{kv: kv}
}

// Get returns the current pool snapshot, or an empty snapshot if no refill
// has completed yet.
func (r *poolRepository) Get(ctx context.Context) (*PoolSnapshot, error) {
	raw, err := r.kv.Get(ctx, nsPool, keyPoolCurrent)
	if errors.Is(err, driver.ErrKeyNotFound) {
		return &PoolSnapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pool snapshot: %w", err)
	}

	var snapshot PoolSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode pool snapshot: %w", err)
	}
	return &snapshot, nil
}

func (r *poolRepository) Save(ctx context.Context, snapshot *PoolSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode pool snapshot: %w", err)
	}
	if err := r.kv.Set(ctx, nsPool, keyPoolCurrent, raw); err != nil {
		return fmt.Errorf("failed to write pool snapshot: %w", err)
	}
	return nil
}
