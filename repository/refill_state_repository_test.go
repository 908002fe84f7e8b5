package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recommendation-engine/domain"
)

func TestRefillStateRepository_ZeroStateWhenEmpty(t *testing.T) {
	repo := NewRefillStateRepository(newFakeKV())

	state, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, state.LastRefillAt.IsZero())
	assert.Equal(t, 0, state.DailyRefillCount)
	assert.Empty(t, state.CurrentDate)
}

func TestRefillStateRepository_RoundTrip(t *testing.T) {
	repo := NewRefillStateRepository(newFakeKV())
	ctx := context.Background()

	saved := &domain.RefillState{
		LastRefillAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		DailyRefillCount: 3,
		CurrentDate:      "2025-06-01",
	}
	require.NoError(t, repo.Save(ctx, saved))

	loaded, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
}

func TestRefillStateRepository_SaveFailureIsNotPersisted(t *testing.T) {
	kv := newFakeKV()
	kv.setErr = errors.New("connection lost")
	repo := NewRefillStateRepository(kv)

	err := repo.Save(context.Background(), &domain.RefillState{DailyRefillCount: 1})
	assert.ErrorIs(t, err, domain.ErrRefillStateNotPersisted)
}

func TestRefillStateRepository_Reset(t *testing.T) {
	repo := NewRefillStateRepository(newFakeKV())
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &domain.RefillState{DailyRefillCount: 5, CurrentDate: "2025-06-01"}))
	require.NoError(t, repo.Reset(ctx))

	state, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, state.DailyRefillCount)
}
