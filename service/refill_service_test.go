package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recommendation-engine/budget"

	"recommendation-engine/domain"
)

type fakePublisher struct {
	events []string
}

func (f *fakePublisher) Publish(ctx context.Context, eventType string, payload any) error {
	f.events = append(f.events, eventType)
	return nil
}

type refillFixture struct {
	svc       *RefillService
	pool      *fakePoolRepo
	state     *fakeRefillStateRepo
	publisher *fakePublisher
	source    *fakeContentSource
}

func newRefillFixture(t *testing.T, state *fakeRefillStateRepo) *refillFixture {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := testEngineConfig()
	cfg.RefillTickInterval = 5 * time.Minute

	source := &fakeContentSource{
		candidates: pipelineCandidates(now),
		profile:    confidentProfile(),
	}
	usage := &fakeUsageRepo{}
	tracker := budget.NewTracker(0, slog.Default())
	augur := &fakeAugur{available: false} // degraded lexical-only keeps the fixture simple

	collector := NewContextCollector(source, usage, &fakePoolRepo{}, tracker, nil, cfg, testContextLogger())
	strategy := NewStrategyService(newFakeDecisionRepo(), usage, collector, augur, tracker, testRetrier(), cfg, testContextLogger())

	policy := NewRefillPolicy(state, testContextLogger())
	policy.nowFunc = func() time.Time { return now }

	pipeline, err := NewScoringPipeline(
		source, augur, tracker, usage, testRetrier(),
		NewLexicalScorer(cfg.LexicalScoreFloor),
		NewColdStartRanker(cfg.ColdStartMinScore),
		cfg, testContextLogger(),
	)
	require.NoError(t, err)

	pool := &fakePoolRepo{}
	publisher := &fakePublisher{}
	svc := NewRefillService(strategy, policy, pipeline, pool, publisher, cfg, testContextLogger())
	svc.nowFunc = func() time.Time { return now }

	return &refillFixture{svc: svc, pool: pool, state: state, publisher: publisher, source: source}
}

func TestRefillService_RefillFillsEmptyPool(t *testing.T) {
	f := newRefillFixture(t, &fakeRefillStateRepo{})

	result, err := f.svc.Refill(context.Background(), false)
	require.NoError(t, err)

	require.NotEmpty(t, result.Items)
	assert.LessOrEqual(t, len(result.Items), domain.DefaultParams().TargetPoolSize)

	// Pool swapped, quota committed, event published.
	assert.Equal(t, 1, f.pool.saves)
	assert.Len(t, f.pool.snapshot.Items, len(result.Items))
	assert.Equal(t, 1, f.state.state.DailyRefillCount)
	assert.Equal(t, []string{"recommendations.refilled"}, f.publisher.events)
}

func TestRefillService_SuppressedWhenPoolSufficientlyFull(t *testing.T) {
	f := newRefillFixture(t, &fakeRefillStateRepo{})
	f.pool.snapshot.Items = make([]domain.ScoredItem, 5) // ratio 1.0 > 0.3

	_, err := f.svc.Refill(context.Background(), false)
	assert.ErrorIs(t, err, domain.ErrRefillSuppressed)
	assert.Equal(t, 0, f.pool.saves)
	assert.Equal(t, 0, f.state.saves)
	assert.Empty(t, f.publisher.events)
}

func TestRefillService_ForceBypassesAdmissionButConsumesQuota(t *testing.T) {
	f := newRefillFixture(t, &fakeRefillStateRepo{})
	f.pool.snapshot.Items = make([]domain.ScoredItem, 5)

	_, err := f.svc.Refill(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.state.state.DailyRefillCount)
}

// A refill whose durable quota write fails must not swap the pool: a crash
// right after would otherwise allow over-quota refills on restart.
func TestRefillService_PoolNotSwappedWhenQuotaWriteFails(t *testing.T) {
	f := newRefillFixture(t, &fakeRefillStateRepo{saveErr: errors.New("disk gone")})

	_, err := f.svc.Refill(context.Background(), false)
	assert.ErrorIs(t, err, domain.ErrRefillStateNotPersisted)
	assert.Equal(t, 0, f.pool.saves)
	assert.Empty(t, f.publisher.events)
}

func TestRefillService_TickTreatsSuppressionAsNormal(t *testing.T) {
	f := newRefillFixture(t, &fakeRefillStateRepo{})
	f.pool.snapshot.Items = make([]domain.ScoredItem, 5)

	next, err := f.svc.RefillTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, next)
}

func TestRefillService_TickTreatsEmptySourceAsNormal(t *testing.T) {
	f := newRefillFixture(t, &fakeRefillStateRepo{})
	f.source.candidates = nil

	next, err := f.svc.RefillTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, next)
	assert.Equal(t, 0, f.state.saves)
}
