package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recommendation-engine/budget"
	"recommendation-engine/config"
	"recommendation-engine/driver"
	"recommendation-engine/repository"
	"recommendation-engine/retry"

	"recommendation-engine/domain"
)

type fakeContentSource struct {
	candidates   []domain.CandidateItem
	sources      []domain.SourceInfo
	profile      *domain.InterestProfile
	supply       domain.SupplyMetrics
	demand       domain.DemandMetrics
	history      domain.HistoryMetrics
	candidateErr error
	sourcesCalls int
}

func (f *fakeContentSource) FetchCandidates(ctx context.Context, limit int) ([]domain.CandidateItem, error) {
	if f.candidateErr != nil {
		return nil, f.candidateErr
	}
	if limit > 0 && len(f.candidates) > limit {
		return f.candidates[:limit], nil
	}
	return f.candidates, nil
}

func (f *fakeContentSource) FetchSources(ctx context.Context) ([]domain.SourceInfo, error) {
	f.sourcesCalls++
	return f.sources, nil
}

func (f *fakeContentSource) FetchProfile(ctx context.Context) (*domain.InterestProfile, error) {
	return f.profile, nil
}

func (f *fakeContentSource) FetchSupplyStats(ctx context.Context) (*domain.SupplyMetrics, error) {
	supply := f.supply
	return &supply, nil
}

func (f *fakeContentSource) FetchDemandStats(ctx context.Context) (*domain.DemandMetrics, error) {
	demand := f.demand
	return &demand, nil
}

func (f *fakeContentSource) FetchHistoryStats(ctx context.Context) (*domain.HistoryMetrics, error) {
	history := f.history
	return &history, nil
}

type fakeAugur struct {
	mu          sync.Mutex
	available   bool
	relevance   map[string]float64 // by title
	callUsage   driver.CallUsage
	scoreCalls  int
	decideResp  json.RawMessage
	decideErr   error
	decideCalls int
}

func (f *fakeAugur) Available() bool { return f.available }

func (f *fakeAugur) Decide(ctx context.Context, contextJSON []byte) (json.RawMessage, driver.CallUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decideCalls++
	if !f.available {
		return nil, driver.CallUsage{}, domain.ErrDecisionCapabilityUnavailable
	}
	if f.decideErr != nil {
		return nil, f.callUsage, f.decideErr
	}
	return f.decideResp, f.callUsage, nil
}

func (f *fakeAugur) ScoreContent(ctx context.Context, title, content string, interests []string) (*driver.ContentScore, driver.CallUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scoreCalls++
	if !f.available {
		return nil, driver.CallUsage{}, domain.ErrScoringCapabilityUnavailable
	}
	rel, ok := f.relevance[title]
	if !ok {
		return nil, f.callUsage, fmt.Errorf("transient scoring failure")
	}
	return &driver.ContentScore{Relevance: rel, Topics: []string{"test"}, Confidence: 0.9}, f.callUsage, nil
}

type fakeUsageRepo struct {
	mu    sync.Mutex
	calls []repository.UsageRecord
	runs  []repository.RunRecord
}

func (f *fakeUsageRepo) AppendCall(ctx context.Context, record repository.UsageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, record)
	return nil
}

func (f *fakeUsageRepo) AppendRun(ctx context.Context, record repository.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, record)
	return nil
}

func (f *fakeUsageRepo) SummarizeSince(ctx context.Context, since time.Time) (*repository.UsageSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	summary := &repository.UsageSummary{}
	for _, c := range f.calls {
		if c.At.Before(since) {
			continue
		}
		summary.Tokens += c.Tokens
		summary.CostUSD += c.CostUSD
		summary.CallCount++
	}
	for _, r := range f.runs {
		if r.At.Before(since) {
			continue
		}
		summary.ItemsProcessed += r.ItemsProcessed
		summary.ItemsProduced += r.ItemsProduced
	}
	return summary, nil
}

func (f *fakeUsageRepo) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		LexicalScoreFloor:     0.2,
		ColdStartConfidence:   30,
		ColdStartMinScore:     0,
		DecisionHistoryLimit:  50,
		CandidateFetchLimit:   100,
		SemanticCallTimeout:   time.Second,
		SemanticScoreCacheLen: 64,
	}
}

func testRetrier() *retry.Retrier {
	return retry.NewRetrier(retry.Config{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}, AugurErrorClassifier, slog.Default())
}

func confidentProfile() *domain.InterestProfile {
	return &domain.InterestProfile{
		TermWeights:        map[string]float64{"rust": 1.0},
		SampleCount:        200,
		Confidence:         80,
		OnboardingComplete: true,
	}
}

func pipelineCandidates(now time.Time) []domain.CandidateItem {
	items := make([]domain.CandidateItem, 0, 6)
	for i := 0; i < 6; i++ {
		items = append(items, domain.CandidateItem{
			ID:          fmt.Sprintf("item-%d", i),
			SourceID:    "s1",
			Title:       fmt.Sprintf("Rust article %d", i),
			Link:        fmt.Sprintf("https://example.com/%d", i),
			Content:     "rust content",
			PublishedAt: now.Add(-time.Duration(i) * time.Hour),
		})
	}
	return items
}

func newTestPipeline(t *testing.T, source *fakeContentSource, augur *fakeAugur, tracker *budget.Tracker, usage *fakeUsageRepo) *ScoringPipeline {
	t.Helper()
	cfg := testEngineConfig()
	pipeline, err := NewScoringPipeline(
		source, augur, tracker, usage, testRetrier(),
		NewLexicalScorer(cfg.LexicalScoreFloor),
		NewColdStartRanker(cfg.ColdStartMinScore),
		cfg, testContextLogger(),
	)
	require.NoError(t, err)
	return pipeline
}

func TestPipeline_StandardRun(t *testing.T) {
	now := time.Now()
	candidates := pipelineCandidates(now)

	relevance := map[string]float64{}
	for i, item := range candidates {
		relevance[item.Title] = 9.0 - float64(i) // 9.0 down to 4.0
	}

	source := &fakeContentSource{candidates: candidates, profile: confidentProfile()}
	augur := &fakeAugur{available: true, relevance: relevance, callUsage: driver.CallUsage{PromptTokens: 100, CompletionTokens: 20, CostUSD: 0.001}}
	usage := &fakeUsageRepo{}
	pipeline := newTestPipeline(t, source, augur, budget.NewTracker(0, slog.Default()), usage)

	params := domain.DefaultParams() // threshold 7.0, pool 5
	result, err := pipeline.Run(context.Background(), params, nil)
	require.NoError(t, err)

	assert.Equal(t, RunModeStandard, result.Mode)
	assert.False(t, result.Degraded)
	assert.Equal(t, 6, result.ItemsProcessed)
	assert.Equal(t, 6, result.ItemsScored)

	// Relevance 9, 8, 7 pass the 7.0 threshold; 6, 5, 4 are dropped.
	require.Len(t, result.Items, 3)
	for i, item := range result.Items {
		require.NotNil(t, item.SemanticScore)
		assert.InDelta(t, (9.0-float64(i))/10.0, item.FinalScore, 1e-9)
		assert.GreaterOrEqual(t, *item.SemanticScore, params.ScoreThreshold)
	}
	// Ordered by descending final score.
	assert.Equal(t, "item-0", result.Items[0].ID)

	assert.Len(t, usage.runs, 1)
	assert.Len(t, usage.calls, 6)
	assert.Greater(t, result.CostUSD, 0.0)
}

func TestPipeline_DegradedWhenCapabilityUnavailable(t *testing.T) {
	now := time.Now()
	source := &fakeContentSource{candidates: pipelineCandidates(now), profile: confidentProfile()}
	augur := &fakeAugur{available: false}
	usage := &fakeUsageRepo{}
	pipeline := newTestPipeline(t, source, augur, budget.NewTracker(0, slog.Default()), usage)

	result, err := pipeline.Run(context.Background(), domain.DefaultParams(), nil)
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	assert.Equal(t, 0, result.ItemsScored)
	assert.Equal(t, 0, augur.scoreCalls)
	require.NotEmpty(t, result.Items)
	for _, item := range result.Items {
		// Lexical-only items are exempt from the semantic threshold.
		assert.Nil(t, item.SemanticScore)
		assert.Equal(t, item.LexicalScore, item.FinalScore)
		assert.Equal(t, "lexical only", item.Rationale)
	}
}

func TestPipeline_DegradedWhenTokenBudgetExhausted(t *testing.T) {
	now := time.Now()
	source := &fakeContentSource{candidates: pipelineCandidates(now), profile: confidentProfile()}
	augur := &fakeAugur{available: true}
	tracker := budget.NewTracker(100, slog.Default())
	tracker.Record(time.Now(), 100, 0)

	pipeline := newTestPipeline(t, source, augur, tracker, &fakeUsageRepo{})
	result, err := pipeline.Run(context.Background(), domain.DefaultParams(), nil)
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	assert.Equal(t, 0, augur.scoreCalls)
}

func TestPipeline_ColdStartMode(t *testing.T) {
	now := time.Now()
	source := &fakeContentSource{
		candidates: pipelineCandidates(now),
		sources:    []domain.SourceInfo{{ID: "s1", Title: "Source"}},
		profile:    &domain.InterestProfile{Confidence: 10},
	}
	augur := &fakeAugur{available: true}
	pipeline := newTestPipeline(t, source, augur, budget.NewTracker(0, slog.Default()), &fakeUsageRepo{})

	result, err := pipeline.Run(context.Background(), domain.DefaultParams(), nil)
	require.NoError(t, err)

	assert.Equal(t, RunModeColdStart, result.Mode)
	assert.Equal(t, 1, source.sourcesCalls)
	assert.Equal(t, 0, augur.scoreCalls, "cold start must not spend on semantic calls")
	require.NotEmpty(t, result.Items)
	assert.LessOrEqual(t, len(result.Items), domain.DefaultParams().TargetPoolSize)
	for _, item := range result.Items {
		require.NotNil(t, item.ColdStart)
	}
}

func TestPipeline_CostCeilingSoftStop(t *testing.T) {
	now := time.Now()
	candidates := pipelineCandidates(now)
	relevance := map[string]float64{}
	for _, item := range candidates {
		relevance[item.Title] = 9.0
	}

	source := &fakeContentSource{candidates: candidates, profile: confidentProfile()}
	// Each call costs more than the whole ceiling.
	augur := &fakeAugur{available: true, relevance: relevance, callUsage: driver.CallUsage{PromptTokens: 100, CostUSD: 0.10}}
	usage := &fakeUsageRepo{}
	pipeline := newTestPipeline(t, source, augur, budget.NewTracker(0, slog.Default()), usage)

	params := domain.DefaultParams()
	params.AnalysisBatchSize = 2
	params.DailyCostCeilingUSD = 0.05

	result, err := pipeline.Run(context.Background(), params, nil)
	require.NoError(t, err)

	// Only the first batch runs before the ceiling trips.
	assert.Equal(t, 2, result.ItemsScored)
	assert.Equal(t, 2, augur.scoreCalls)

	// The soft stop leaves the rest lexical-only, and the run still fills
	// the pool.
	var semantic, lexicalOnly int
	for _, item := range result.Items {
		if item.SemanticScore != nil {
			semantic++
		} else {
			lexicalOnly++
		}
	}
	assert.Greater(t, semantic, 0)
	assert.Greater(t, lexicalOnly, 0)
	assert.LessOrEqual(t, len(result.Items), params.TargetPoolSize)
}

func TestPipeline_ScoreCachePreventsDoubleBilling(t *testing.T) {
	now := time.Now()
	candidates := pipelineCandidates(now)
	relevance := map[string]float64{}
	for _, item := range candidates {
		relevance[item.Title] = 9.0
	}

	source := &fakeContentSource{candidates: candidates, profile: confidentProfile()}
	augur := &fakeAugur{available: true, relevance: relevance, callUsage: driver.CallUsage{PromptTokens: 10, CostUSD: 0.001}}
	pipeline := newTestPipeline(t, source, augur, budget.NewTracker(0, slog.Default()), &fakeUsageRepo{})

	params := domain.DefaultParams()
	_, err := pipeline.Run(context.Background(), params, nil)
	require.NoError(t, err)
	firstCalls := augur.scoreCalls

	_, err = pipeline.Run(context.Background(), params, nil)
	require.NoError(t, err)

	assert.Equal(t, firstCalls, augur.scoreCalls, "second run must be served from the score cache")
}

func TestPipeline_NoCandidates(t *testing.T) {
	source := &fakeContentSource{profile: confidentProfile()}
	pipeline := newTestPipeline(t, source, &fakeAugur{available: true}, budget.NewTracker(0, slog.Default()), &fakeUsageRepo{})

	_, err := pipeline.Run(context.Background(), domain.DefaultParams(), nil)
	assert.ErrorIs(t, err, domain.ErrNoCandidates)
}

func TestPipeline_FailedItemFallsBackToLexical(t *testing.T) {
	now := time.Now()
	candidates := pipelineCandidates(now)
	// Only half the items have a scorable title; the rest fail transiently.
	relevance := map[string]float64{}
	for i, item := range candidates {
		if i%2 == 0 {
			relevance[item.Title] = 9.0
		}
	}

	source := &fakeContentSource{candidates: candidates, profile: confidentProfile()}
	augur := &fakeAugur{available: true, relevance: relevance}
	pipeline := newTestPipeline(t, source, augur, budget.NewTracker(0, slog.Default()), &fakeUsageRepo{})

	result, err := pipeline.Run(context.Background(), domain.DefaultParams(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, result.ItemsScored)
	var lexicalOnly int
	for _, item := range result.Items {
		if item.SemanticScore == nil {
			lexicalOnly++
		}
	}
	assert.Greater(t, lexicalOnly, 0, "failed items must survive with lexical scores")
}

func TestPipeline_ProgressReporting(t *testing.T) {
	now := time.Now()
	candidates := pipelineCandidates(now)
	relevance := map[string]float64{}
	for _, item := range candidates {
		relevance[item.Title] = 9.0
	}

	source := &fakeContentSource{candidates: candidates, profile: confidentProfile()}
	augur := &fakeAugur{available: true, relevance: relevance}
	pipeline := newTestPipeline(t, source, augur, budget.NewTracker(0, slog.Default()), &fakeUsageRepo{})

	progress := make(chan Progress, 64)
	_, err := pipeline.Run(context.Background(), domain.DefaultParams(), progress)
	require.NoError(t, err)
	close(progress)

	var states []PipelineState
	for p := range progress {
		states = append(states, p.State)
	}
	require.NotEmpty(t, states)
	assert.Equal(t, StateFetching, states[0])
	assert.Equal(t, StateComplete, states[len(states)-1])
}
