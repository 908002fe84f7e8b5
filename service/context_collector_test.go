package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recommendation-engine/budget"
	"recommendation-engine/repository"

	"recommendation-engine/domain"
)

type fakeSnapshotCache struct {
	entries map[string][]byte
	gets    int
	sets    int
}

func newFakeSnapshotCache() *fakeSnapshotCache {
	return &fakeSnapshotCache{entries: make(map[string][]byte)}
}

func (f *fakeSnapshotCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	f.gets++
	raw, ok := f.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (f *fakeSnapshotCache) Set(ctx context.Context, key string, value any) error {
	f.sets++
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.entries[key] = raw
	return nil
}

func TestContextCollector_Collect(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	source := &fakeContentSource{
		profile: &domain.InterestProfile{
			TermWeights: map[string]float64{"rust": 0.9, "go": 0.8, "zig": 0.2},
			SampleCount: 120,
			Confidence:  70,
		},
		supply:  domain.SupplyMetrics{ActiveSources: 12, DailyNewItems: 340, RawPoolSize: 900, CandidatePoolSize: 80},
		demand:  domain.DemandMetrics{DailyReadCount: 25, AvgReadSpeed: 3.5, DismissRate: 0.2, LikeRate: 0.1},
		history: domain.HistoryMetrics{ReadCount7d: 170},
	}
	usage := &fakeUsageRepo{}
	require.NoError(t, usage.AppendRun(context.Background(), repository.RunRecord{ItemsProcessed: 40, ItemsProduced: 5, At: now.Add(-time.Hour)}))

	pool := &fakePoolRepo{snapshot: repository.PoolSnapshot{Items: make([]domain.ScoredItem, 3)}}

	tracker := budget.NewTracker(200000, slog.Default())
	tracker.Seed("2025-06-01", 15000, 0.03)

	collector := NewContextCollector(source, usage, pool, tracker, nil, testEngineConfig(), testContextLogger())
	collector.nowFunc = func() time.Time { return now }

	snapshot, err := collector.Collect(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, 12, snapshot.Supply.ActiveSources)
	assert.Equal(t, 25, snapshot.Demand.DailyReadCount)
	assert.Equal(t, 3, snapshot.Demand.PoolSize)
	assert.Equal(t, 5, snapshot.Demand.PoolCapacity)

	assert.Equal(t, int64(15000), snapshot.System.TokensUsedToday)
	assert.Equal(t, int64(200000), snapshot.System.TokensBudgetDaily)
	assert.InDelta(t, 0.03, snapshot.System.CostTodayUSD, 1e-9)
	assert.Equal(t, 40, snapshot.System.ItemsProcessedToday)
	assert.Equal(t, 5, snapshot.System.ItemsRecommendedToday)

	assert.Equal(t, 170, snapshot.History.ReadCount7d)
	assert.Equal(t, 40, snapshot.History.ProcessedCount7d)

	assert.Equal(t, 70, snapshot.Profile.Confidence)
	assert.Equal(t, []string{"rust", "go", "zig"}, snapshot.Profile.TopTopics)
	assert.Equal(t, now, snapshot.CollectedAt)
}

func TestContextCollector_CacheAbsorbsRepeatCollections(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	source := &fakeContentSource{profile: confidentProfile()}
	cache := newFakeSnapshotCache()

	collector := NewContextCollector(source, &fakeUsageRepo{}, &fakePoolRepo{}, budget.NewTracker(0, slog.Default()), cache, testEngineConfig(), testContextLogger())
	collector.nowFunc = func() time.Time { return now }

	first, err := collector.Collect(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	second, err := collector.Collect(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets, "second collection must be served from cache")
	assert.Equal(t, first.CollectedAt, second.CollectedAt)
}
