package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	nsUsageCalls = "usage.calls"
	nsUsageRuns  = "usage.runs"
)

type usageRepository struct {
	kv KV
}

// NewUsageRepository creates a KV-backed usage log.
func NewUsageRepository(kv KV) UsageRepository {
	return &usageRepository{kv: kv}
}

func (r *usageRepository) AppendCall(ctx context.Context, record UsageRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode usage record: %w", err)
	}
	if err := r.kv.Set(ctx, nsUsageCalls, uuid.NewString(), raw); err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

func (r *usageRepository) AppendRun(ctx context.Context, record RunRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}
	key := record.RunID
	if key == "" {
		key = uuid.NewString()
	}
	if err := r.kv.Set(ctx, nsUsageRuns, key, raw); err != nil {
		return fmt.Errorf("failed to append run record: %w", err)
	}
	return nil
}

// SummarizeSince aggregates calls and runs written at or after since.
func (r *usageRepository) SummarizeSince(ctx context.Context, since time.Time) (*UsageSummary, error) {
	summary := &UsageSummary{}

	calls, err := r.kv.ListSince(ctx, nsUsageCalls, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage calls: %w", err)
	}
	for _, e := range calls {
		var rec UsageRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			continue // skip corrupt entries rather than failing the summary
		}
		summary.Tokens += rec.Tokens
		summary.CostUSD += rec.CostUSD
		summary.CallCount++
	}

	runs, err := r.kv.ListSince(ctx, nsUsageRuns, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list run records: %w", err)
	}
	for _, e := range runs {
		var rec RunRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			continue
		}
		summary.ItemsProcessed += rec.ItemsProcessed
		summary.ItemsProduced += rec.ItemsProduced
	}

	return summary, nil
}

// PruneBefore removes usage entries older than the cutoff.
func (r *usageRepository) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, ns := range []string{nsUsageCalls, nsUsageRuns} {
		n, err := r.kv.DeleteBefore(ctx, ns, before)
		if err != nil {
			return total, fmt.Errorf("failed to prune %s: %w", ns, err)
		}
		total += n
	}
	return total, nil
}
