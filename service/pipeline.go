// ABOUTME: This file implements the two-stage scoring pipeline state machine
// ABOUTME: Lexical pre-filter, batched semantic scoring, degraded mode and cost gating
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"recommendation-engine/budget"
	"recommendation-engine/config"
	"recommendation-engine/driver"
	"recommendation-engine/logger"
	"recommendation-engine/orchestrator"
	"recommendation-engine/repository"
	"recommendation-engine/retry"

	"recommendation-engine/domain"
)

// PipelineState is one phase of a scoring run. Transitions are linear;
// error and cancelled are terminal from any phase.
type PipelineState string

const (
	StateIdle            PipelineState = "idle"
	StateFetching        PipelineState = "fetching"
	StateLexicalFilter   PipelineState = "lexical_filter"
	StateSemanticScoring PipelineState = "semantic_scoring"
	StateFinalizing      PipelineState = "finalizing"
	StateComplete        PipelineState = "complete"
	StateError           PipelineState = "error"
	StateCancelled       PipelineState = "cancelled"
)

// Run modes.
const (
	RunModeStandard  = "standard"
	RunModeColdStart = "cold_start"
)

// Progress is a point-in-time view of a running pipeline, emitted on the
// optional progress channel. Sends never block; a slow consumer just sees
// fewer updates.
type Progress struct {
	RunID     string        `json:"run_id"`
	State     PipelineState `json:"state"`
	Processed int           `json:"processed"`
	Total     int           `json:"total"`
	Message   string        `json:"message,omitempty"`
}

// RunResult summarizes one completed pipeline run.
type RunResult struct {
	RunID          string              `json:"run_id"`
	Mode           string              `json:"mode"`
	Items          []domain.ScoredItem `json:"items"`
	ItemsProcessed int                 `json:"items_processed"`
	ItemsScored    int                 `json:"items_scored"`
	Degraded       bool                `json:"degraded"`
	CostUSD        float64             `json:"cost_usd"`
	Duration       time.Duration       `json:"duration"`
}

// cachedScore is a previously paid-for semantic result. Re-scoring the same
// item would double-bill; the cache key is the item ID.
type cachedScore struct {
	relevance float64
	topics    []string
}

// ScoringPipeline runs candidates through lexical filtering and batched
// semantic scoring, degrading gracefully to lexical-only output when the
// scoring capability or the budget is not available.
type ScoringPipeline struct {
	source     repository.ContentSource
	augur      Augur
	budget     *budget.Tracker
	usage      repository.UsageRepository
	retrier    *retry.Retrier
	lexical    *LexicalScorer
	coldstart  *ColdStartRanker
	scoreCache *lru.Cache[string, cachedScore]
	cfg        config.EngineConfig
	logger     *logger.ContextLogger
	nowFunc    func() time.Time
}

// NewScoringPipeline wires the pipeline. The semantic score cache is
// in-process only; losing it on restart costs money, not correctness.
func NewScoringPipeline(
	source repository.ContentSource,
	augur Augur,
	tracker *budget.Tracker,
	usage repository.UsageRepository,
	retrier *retry.Retrier,
	lexical *LexicalScorer,
	coldstart *ColdStartRanker,
	cfg config.EngineConfig,
	ctxLogger *logger.ContextLogger,
) (*ScoringPipeline, error) {
	cacheLen := cfg.SemanticScoreCacheLen
	if cacheLen <= 0 {
		cacheLen = 2048
	}
	cache, err := lru.New[string, cachedScore](cacheLen)
	if err != nil {
		return nil, fmt.Errorf("failed to create score cache: %w", err)
	}
	return &ScoringPipeline{
		source:     source,
		augur:      augur,
		budget:     tracker,
		usage:      usage,
		retrier:    retrier,
		lexical:    lexical,
		coldstart:  coldstart,
		scoreCache: cache,
		cfg:        cfg,
		logger:     ctxLogger,
		nowFunc:    time.Now,
	}, nil
}

// Run executes one scoring run under the given parameters. The progress
// channel may be nil. Cancellation is honored between batches; in-flight
// semantic calls finish or time out on their own.
func (p *ScoringPipeline) Run(ctx context.Context, params domain.DecisionParams, progress chan<- Progress) (*RunResult, error) {
	runID := uuid.NewString()
	ctx = logger.WithPipelineRun(ctx, runID)
	started := p.nowFunc()

	result := &RunResult{RunID: runID, Mode: RunModeStandard}
	report := func(state PipelineState, processed, total int, msg string) {
		ctx := logger.WithPipelineStage(ctx, string(state))
		p.logger.WithContext(ctx).Debug("pipeline state", "processed", processed, "total", total, "message", msg)
		if progress == nil {
			return
		}
		select {
		case progress <- Progress{RunID: runID, State: state, Processed: processed, Total: total, Message: msg}:
		default:
		}
	}
	fail := func(state PipelineState, err error) (*RunResult, error) {
		report(state, result.ItemsProcessed, 0, err.Error())
		return nil, err
	}

	report(StateFetching, 0, 0, "")
	candidates, err := p.source.FetchCandidates(ctx, p.cfg.CandidateFetchLimit)
	if err != nil {
		return fail(StateError, fmt.Errorf("failed to fetch candidates: %w", err))
	}
	if len(candidates) == 0 {
		return fail(StateError, domain.ErrNoCandidates)
	}
	result.ItemsProcessed = len(candidates)

	profile, err := p.source.FetchProfile(ctx)
	if err != nil {
		return fail(StateError, fmt.Errorf("failed to fetch profile: %w", err))
	}

	// Without a trustworthy profile neither stage can discriminate; the
	// cold-start ranker replaces the whole two-stage flow.
	if profile == nil || profile.Confidence < p.cfg.ColdStartConfidence {
		return p.runColdStart(ctx, candidates, params, result, started, report)
	}

	report(StateLexicalFilter, 0, len(candidates), "")
	scored := p.lexical.ScoreAll(candidates, profile)
	if len(scored) == 0 {
		return fail(StateError, fmt.Errorf("%w: all candidates below lexical floor", domain.ErrNoCandidates))
	}

	now := p.nowFunc()
	degraded := !p.augur.Available() ||
		p.budget.TokensExhausted(now) ||
		p.budget.CostExceeds(now, params.DailyCostCeilingUSD)
	if degraded {
		p.logger.WithContext(ctx).Warn("semantic scoring unavailable, running lexical-only",
			"augur_available", p.augur.Available(),
			"tokens_exhausted", p.budget.TokensExhausted(now))
	} else {
		if err := p.scoreSemantics(ctx, scored, profile, params, result, report); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return fail(StateCancelled, err)
			}
			return fail(StateError, err)
		}
	}
	result.Degraded = degraded

	report(StateFinalizing, result.ItemsScored, len(scored), "")
	result.Items = finalizeItems(scored, params)
	result.Duration = p.nowFunc().Sub(started)

	p.appendRunRecord(ctx, result)
	report(StateComplete, result.ItemsScored, len(scored), "")
	return result, nil
}

// runColdStart is the profile-less branch: no semantic calls, no spend.
func (p *ScoringPipeline) runColdStart(
	ctx context.Context,
	candidates []domain.CandidateItem,
	params domain.DecisionParams,
	result *RunResult,
	started time.Time,
	report func(PipelineState, int, int, string),
) (*RunResult, error) {
	result.Mode = RunModeColdStart

	sources, err := p.source.FetchSources(ctx)
	if err != nil {
		report(StateError, 0, len(candidates), err.Error())
		return nil, fmt.Errorf("failed to fetch sources for cold-start: %w", err)
	}

	report(StateFinalizing, 0, len(candidates), "cold-start ranking")
	result.Items = p.coldstart.Rank(candidates, sources, params.TargetPoolSize)
	result.Duration = p.nowFunc().Sub(started)

	p.appendRunRecord(ctx, result)
	report(StateComplete, len(candidates), len(candidates), "")
	return result, nil
}

// scoreSemantics runs stage 2 over the lexically filtered set in batches.
// The cost ceiling is checked between batches: hitting it is a soft stop
// that leaves the remaining items lexical-only, not a failure.
func (p *ScoringPipeline) scoreSemantics(
	ctx context.Context,
	scored []domain.ScoredItem,
	profile *domain.InterestProfile,
	params domain.DecisionParams,
	result *RunResult,
	report func(PipelineState, int, int, string),
) error {
	interests := profile.TopTerms(10)
	batchSize := params.AnalysisBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	stage := orchestrator.Stage[*domain.ScoredItem, scoreOutcome]{
		Name:    string(StateSemanticScoring),
		Workers: int64(params.SemanticWorkers),
		Process: func(ctx context.Context, item *domain.ScoredItem) (scoreOutcome, error) {
			return p.scoreOne(ctx, item, interests)
		},
	}

	report(StateSemanticScoring, 0, len(scored), "")
	for start := 0; start < len(scored); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.budget.CostExceeds(p.nowFunc(), params.DailyCostCeilingUSD) {
			p.logger.WithContext(ctx).Warn("cost ceiling reached, stopping semantic scoring",
				"scored", result.ItemsScored, "remaining", len(scored)-start)
			report(StateSemanticScoring, result.ItemsScored, len(scored), domain.ErrCostCeilingReached.Error())
			return nil
		}

		end := start + batchSize
		if end > len(scored) {
			end = len(scored)
		}
		batch := make([]*domain.ScoredItem, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, &scored[i])
		}

		for _, r := range orchestrator.RunStage(ctx, stage, batch) {
			result.CostUSD += r.Value.costUSD
			if r.Err != nil {
				// One failed item degrades to its lexical score; the run
				// goes on.
				p.logger.WithContext(ctx).Warn("semantic scoring failed for item",
					"item_id", batch[r.Index].ID, "error", r.Err)
				continue
			}
			result.ItemsScored++
		}
		report(StateSemanticScoring, result.ItemsScored, len(scored), "")
	}
	return nil
}

// scoreOutcome reports what one semantic scoring attempt cost and whether
// it came from the cache.
type scoreOutcome struct {
	cached  bool
	costUSD float64
}

// scoreOne fills in the semantic score for one item, consulting the cache
// first so an already-paid-for item is never billed twice.
func (p *ScoringPipeline) scoreOne(ctx context.Context, item *domain.ScoredItem, interests []string) (scoreOutcome, error) {
	if hit, ok := p.scoreCache.Get(item.ID); ok {
		rel := hit.relevance
		item.SemanticScore = &rel
		item.Topics = hit.topics
		return scoreOutcome{cached: true}, nil
	}

	var outcome scoreOutcome
	var score *driver.ContentScore
	err := p.retrier.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.SemanticCallTimeout)
		defer cancel()

		result, usage, callErr := p.augur.ScoreContent(callCtx, item.Title, item.Content, interests)
		if usage.TotalTokens() > 0 {
			// Failed attempts still burned tokens; account for them.
			now := p.nowFunc()
			p.budget.Record(now, usage.TotalTokens(), usage.CostUSD)
			outcome.costUSD += usage.CostUSD
			if err := p.usage.AppendCall(ctx, repository.UsageRecord{
				Kind:    "scoring",
				Tokens:  usage.TotalTokens(),
				CostUSD: usage.CostUSD,
				At:      now,
			}); err != nil {
				p.logger.WithContext(ctx).Warn("failed to append scoring usage record", "error", err)
			}
		}
		if callErr != nil {
			return callErr
		}
		score = result
		return nil
	})
	if err != nil {
		return outcome, err
	}

	rel := score.Relevance
	item.SemanticScore = &rel
	item.Topics = score.Topics
	p.scoreCache.Add(item.ID, cachedScore{relevance: rel, topics: score.Topics})
	return outcome, nil
}

// finalizeItems applies the semantic threshold, merges scores and produces
// the final ordered, truncated pool. Semantic relevance (0-10) overrides
// the lexical score when present; lexical-only items are exempt from the
// semantic threshold so degraded runs still fill the pool.
func finalizeItems(scored []domain.ScoredItem, params domain.DecisionParams) []domain.ScoredItem {
	final := make([]domain.ScoredItem, 0, len(scored))
	for _, item := range scored {
		if item.SemanticScore != nil {
			if *item.SemanticScore < params.ScoreThreshold {
				continue
			}
			item.FinalScore = *item.SemanticScore / 10.0
			item.Rationale = fmt.Sprintf("semantic relevance %.1f", *item.SemanticScore)
		} else {
			item.FinalScore = item.LexicalScore
			item.Rationale = "lexical only"
		}
		final = append(final, item)
	}

	// Descending score; recency wins ties so a full pool still rotates.
	sortItems(final)

	if params.TargetPoolSize > 0 && len(final) > params.TargetPoolSize {
		final = final[:params.TargetPoolSize]
	}
	return final
}

func sortItems(items []domain.ScoredItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].FinalScore != items[j].FinalScore {
			return items[i].FinalScore > items[j].FinalScore
		}
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
}

func (p *ScoringPipeline) appendRunRecord(ctx context.Context, result *RunResult) {
	record := repository.RunRecord{
		RunID:          result.RunID,
		ItemsProcessed: result.ItemsProcessed,
		ItemsProduced:  len(result.Items),
		CostUSD:        result.CostUSD,
		Degraded:       result.Degraded,
		At:             p.nowFunc(),
	}
	if err := p.usage.AppendRun(ctx, record); err != nil {
		p.logger.WithContext(ctx).Warn("failed to append run record", "run_id", result.RunID, "error", err)
	}
}

// AugurErrorClassifier reports whether an external intelligence call is
// worth retrying. Capability and malformed-response errors are permanent
// within a cycle; transport errors and timeouts are transient.
func AugurErrorClassifier(err error) bool {
	switch {
	case errors.Is(err, domain.ErrDecisionCapabilityUnavailable),
		errors.Is(err, domain.ErrScoringCapabilityUnavailable),
		errors.Is(err, domain.ErrDecisionResponseMalformed),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
