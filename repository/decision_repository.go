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
	nsDecisions      = "decisions"
	nsDecisionActive = "decisions.active"
	keyActivePointer = "current"
)

type decisionRepository struct {
	kv KV
}

// NewDecisionRepository creates a KV-backed decision repository.
func NewDecisionRepository(kv KV) DecisionRepository {
	return &decisionRepository{kv: kv}
}

// GetActive returns the decision occupying the active slot, or
// domain.ErrNoActiveDecision if the slot is empty or dangling.
func (r *decisionRepository) GetActive(ctx context.Context) (*domain.StrategyDecision, error) {
	raw, err := r.kv.Get(ctx, nsDecisionActive, keyActivePointer)
	if errors.Is(err, driver.ErrKeyNotFound) {
		return nil, domain.ErrNoActiveDecision
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read active pointer: %w", err)
	}

	var pointer struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &pointer); err != nil {
		return nil, fmt.Errorf("failed to decode active pointer: %w", err)
	}

	decision, err := r.Get(ctx, pointer.ID)
	if errors.Is(err, domain.ErrDecisionNotFound) {
		// Dangling pointer after pruning; treat as no active decision.
		return nil, domain.ErrNoActiveDecision
	}
	return decision, err
}

func (r *decisionRepository) Get(ctx context.Context, id string) (*domain.StrategyDecision, error) {
	raw, err := r.kv.Get(ctx, nsDecisions, id)
	if errors.Is(err, driver.ErrKeyNotFound) {
		return nil, domain.ErrDecisionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read decision %s: %w", id, err)
	}

	var decision domain.StrategyDecision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return nil, fmt.Errorf("failed to decode decision %s: %w", id, err)
	}
	return &decision, nil
}

// SaveActive persists the decision and points the active slot at it. Any
// previous active decision transitions to previousStatus. Last write wins
// on the single slot.
func (r *decisionRepository) SaveActive(ctx context.Context, decision *domain.StrategyDecision, previousStatus domain.DecisionStatus) error {
	previous, err := r.GetActive(ctx)
	if err != nil && !errors.Is(err, domain.ErrNoActiveDecision) {
		return err
	}

	if err := r.put(ctx, decision); err != nil {
		return err
	}

	pointer, err := json.Marshal(map[string]string{"id": decision.ID})
	if err != nil {
		return fmt.Errorf("failed to encode active pointer: %w", err)
	}
	if err := r.kv.Set(ctx, nsDecisionActive, keyActivePointer, pointer); err != nil {
		return fmt.Errorf("failed to write active pointer: %w", err)
	}

	if previous != nil && previous.ID != decision.ID {
		previous.Status = previousStatus
		if err := r.put(ctx, previous); err != nil {
			return fmt.Errorf("failed to demote previous decision: %w", err)
		}
	}
	return nil
}

func (r *decisionRepository) SetStatus(ctx context.Context, id string, status domain.DecisionStatus) error {
	decision, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	decision.Status = status
	if err := r.put(ctx, decision); err != nil {
		return err
	}

	if status != domain.DecisionStatusActive {
		// Clear the active slot if it still points at this decision.
		active, err := r.GetActive(ctx)
		if err == nil && active.ID == id {
			if err := r.kv.Delete(ctx, nsDecisionActive, keyActivePointer); err != nil {
				return fmt.Errorf("failed to clear active pointer: %w", err)
			}
		}
	}
	return nil
}

func (r *decisionRepository) RecordOutcome(ctx context.Context, id string, outcome *domain.ExecutionOutcome) error {
	decision, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	decision.Outcome = outcome
	return r.put(ctx, decision)
}

func (r *decisionRepository) ListRecent(ctx context.Context, limit int) ([]*domain.StrategyDecision, error) {
	entries, err := r.kv.ListRecent(ctx, nsDecisions, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}

	decisions := make([]*domain.StrategyDecision, 0, len(entries))
	for _, e := range entries {
		var d domain.StrategyDecision
		if err := json.Unmarshal(e.Value, &d); err != nil {
			return nil, fmt.Errorf("failed to decode decision %s: %w", e.Key, err)
		}
		decisions = append(decisions, &d)
	}
	return decisions, nil
}

// Prune removes decision history beyond the keep most recent records.
func (r *decisionRepository) Prune(ctx context.Context, keep int) (int64, error) {
	entries, err := r.kv.ListRecent(ctx, nsDecisions, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to list decisions for pruning: %w", err)
	}
	if len(entries) < keep {
		return 0, nil
	}
	cutoff := entries[len(entries)-1].UpdatedAt
	return r.kv.DeleteBefore(ctx, nsDecisions, cutoff)
}

func (r *decisionRepository) put(ctx context.Context, decision *domain.StrategyDecision) error {
	raw, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to encode decision %s: %w", decision.ID, err)
	}
	if err := r.kv.Set(ctx, nsDecisions, decision.ID, raw); err != nil {
		return fmt.Errorf("failed to write decision %s: %w", decision.ID, err)
	}
	return nil
}
