package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recommendation-engine/logger"

	"recommendation-engine/domain"
)

type fakeRefillStateRepo struct {
	state   domain.RefillState
	getErr  error
	saveErr error
	saves   int
}

func (f *fakeRefillStateRepo) Get(ctx context.Context) (*domain.RefillState, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	state := f.state
	return &state, nil
}

func (f *fakeRefillStateRepo) Save(ctx context.Context, state *domain.RefillState) error {
	if f.saveErr != nil {
		return domain.ErrRefillStateNotPersisted
	}
	f.state = *state
	f.saves++
	return nil
}

func (f *fakeRefillStateRepo) Reset(ctx context.Context) error {
	f.state = domain.RefillState{}
	return nil
}

func testContextLogger() *logger.ContextLogger {
	return logger.NewContextLogger(slog.Default())
}

func newTestPolicy(repo *fakeRefillStateRepo, now time.Time) *RefillPolicy {
	policy := NewRefillPolicy(repo, testContextLogger())
	policy.nowFunc = func() time.Time { return now }
	return policy
}

func TestRefillPolicy_ShouldRefill(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	params := domain.DefaultParams() // threshold 0.3, cooldown 30m, max 5/day

	tests := map[string]struct {
		current  int
		target   int
		state    domain.RefillState
		expected bool
	}{
		"empty pool refills": {
			current: 0, target: 5,
			expected: true,
		},
		"ratio at threshold refills": {
			// 1/5 = 0.2 <= 0.3
			current: 1, target: 5,
			expected: true,
		},
		"ratio exactly at threshold refills": {
			// 3/10 = 0.3 <= 0.3
			current: 3, target: 10,
			expected: true,
		},
		"ratio just above threshold suppressed": {
			// 4/10 = 0.4 > 0.3
			current: 4, target: 10,
			expected: false,
		},
		"ratio above threshold suppressed": {
			// 3/5 = 0.6 > 0.3
			current: 3, target: 5,
			expected: false,
		},
		"cooldown active suppressed": {
			current: 0, target: 5,
			state: domain.RefillState{
				LastRefillAt: now.Add(-10 * time.Minute),
				CurrentDate:  "2025-06-01",
			},
			expected: false,
		},
		"cooldown elapsed refills": {
			current: 0, target: 5,
			state: domain.RefillState{
				LastRefillAt: now.Add(-45 * time.Minute),
				CurrentDate:  "2025-06-01",
			},
			expected: true,
		},
		"daily quota exhausted suppressed": {
			current: 0, target: 5,
			state: domain.RefillState{
				LastRefillAt:     now.Add(-2 * time.Hour),
				DailyRefillCount: 5,
				CurrentDate:      "2025-06-01",
			},
			expected: false,
		},
		"quota from yesterday does not bind": {
			current: 0, target: 5,
			state: domain.RefillState{
				LastRefillAt:     now.Add(-13 * time.Hour),
				DailyRefillCount: 5,
				CurrentDate:      "2025-05-31",
			},
			expected: true,
		},
		"zero target treated as refillable": {
			current: 10, target: 0,
			expected: true,
		},
		"negative current treated as refillable": {
			current: -1, target: 5,
			expected: true,
		},
		"zero target still bound by cooldown": {
			current: 10, target: 0,
			state: domain.RefillState{
				LastRefillAt: now.Add(-10 * time.Minute),
				CurrentDate:  "2025-06-01",
			},
			expected: false,
		},
		"zero target still bound by daily quota": {
			current: 10, target: 0,
			state: domain.RefillState{
				LastRefillAt:     now.Add(-2 * time.Hour),
				DailyRefillCount: 5,
				CurrentDate:      "2025-06-01",
			},
			expected: false,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			repo := &fakeRefillStateRepo{state: tt.state}
			policy := newTestPolicy(repo, now)

			ok, reason, err := policy.ShouldRefill(context.Background(), tt.current, tt.target, params)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
			if !ok {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestRefillPolicy_RecordRefill(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeRefillStateRepo{state: domain.RefillState{
		LastRefillAt:     now.Add(-2 * time.Hour),
		DailyRefillCount: 2,
		CurrentDate:      "2025-06-01",
	}}
	policy := newTestPolicy(repo, now)

	require.NoError(t, policy.RecordRefill(context.Background(), domain.DefaultParams(), false))

	assert.Equal(t, 3, repo.state.DailyRefillCount)
	assert.Equal(t, now, repo.state.LastRefillAt)
	assert.Equal(t, 1, repo.saves)
}

// Two overlapping triggers can both pass ShouldRefill before either records.
// The second RecordRefill must observe the first's update and refuse rather
// than spend past the quota.
func TestRefillPolicy_RecordRefillRefusesQuotaOverspendUnderRace(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	params := domain.DefaultParams() // max 5/day
	repo := &fakeRefillStateRepo{state: domain.RefillState{
		LastRefillAt:     now.Add(-2 * time.Hour),
		DailyRefillCount: 4,
		CurrentDate:      "2025-06-01",
	}}
	policy := newTestPolicy(repo, now)

	ok, _, err := policy.ShouldRefill(context.Background(), 0, 10, params)
	require.NoError(t, err)
	require.True(t, ok, "both triggers would have been admitted at count 4")

	require.NoError(t, policy.RecordRefill(context.Background(), params, false))

	err = policy.RecordRefill(context.Background(), params, false)
	assert.ErrorIs(t, err, domain.ErrRefillSuppressed)
	assert.Equal(t, 5, repo.state.DailyRefillCount)
}

// Below quota the race is still caught: the first record starts the
// cooldown, which the second must respect.
func TestRefillPolicy_RecordRefillRefusesCooldownBreachUnderRace(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	params := domain.DefaultParams()
	repo := &fakeRefillStateRepo{}
	policy := newTestPolicy(repo, now)

	require.NoError(t, policy.RecordRefill(context.Background(), params, false))

	err := policy.RecordRefill(context.Background(), params, false)
	assert.ErrorIs(t, err, domain.ErrRefillSuppressed)
	assert.Equal(t, 1, repo.state.DailyRefillCount)
}

func TestRefillPolicy_RecordRefillForceSkipsRevalidation(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	params := domain.DefaultParams()
	repo := &fakeRefillStateRepo{state: domain.RefillState{
		LastRefillAt:     now.Add(-5 * time.Minute),
		DailyRefillCount: 5,
		CurrentDate:      "2025-06-01",
	}}
	policy := newTestPolicy(repo, now)

	require.NoError(t, policy.RecordRefill(context.Background(), params, true))
	assert.Equal(t, 6, repo.state.DailyRefillCount)
}

func TestRefillPolicy_RecordRefillRollsOverDate(t *testing.T) {
	now := time.Date(2025, 6, 2, 0, 15, 0, 0, time.UTC)
	repo := &fakeRefillStateRepo{state: domain.RefillState{
		LastRefillAt:     now.Add(-3 * time.Hour),
		DailyRefillCount: 5,
		CurrentDate:      "2025-06-01",
	}}
	policy := newTestPolicy(repo, now)

	require.NoError(t, policy.RecordRefill(context.Background(), domain.DefaultParams(), false))

	assert.Equal(t, 1, repo.state.DailyRefillCount)
	assert.Equal(t, "2025-06-02", repo.state.CurrentDate)
}

func TestRefillPolicy_RecordRefillFailsWhenNotPersisted(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeRefillStateRepo{saveErr: errors.New("disk gone")}
	policy := newTestPolicy(repo, now)

	err := policy.RecordRefill(context.Background(), domain.DefaultParams(), false)
	assert.ErrorIs(t, err, domain.ErrRefillStateNotPersisted)
	assert.Equal(t, 0, repo.saves)
}
