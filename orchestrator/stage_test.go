package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStage_PreservesInputOrder(t *testing.T) {
	stage := Stage[int, string]{
		Name:    "double",
		Workers: 4,
		Process: func(ctx context.Context, n int) (string, error) {
			return fmt.Sprintf("v%d", n*2), nil
		},
	}

	results := RunStage(context.Background(), stage, []int{1, 2, 3, 4, 5})
	require.Len(t, results, 5)
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, i, r.Index)
		assert.Equal(t, fmt.Sprintf("v%d", (i+1)*2), r.Value)
	}
}

func TestRunStage_BoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int64

	stage := Stage[int, int]{
		Name:    "bounded",
		Workers: 2,
		Process: func(ctx context.Context, n int) (int, error) {
			now := current.Add(1)
			for {
				p := peak.Load()
				if now <= p || peak.CompareAndSwap(p, now) {
					break
				}
			}
			defer current.Add(-1)
			return n, nil
		},
	}

	RunStage(context.Background(), stage, []int{1, 2, 3, 4, 5, 6, 7, 8})
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestRunStage_ErrorsAreIsolated(t *testing.T) {
	stage := Stage[int, int]{
		Name:    "flaky",
		Workers: 2,
		Process: func(ctx context.Context, n int) (int, error) {
			if n%2 == 0 {
				return 0, fmt.Errorf("even input %d", n)
			}
			return n, nil
		},
	}

	results := RunStage(context.Background(), stage, []int{1, 2, 3, 4})
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.Error(t, results[3].Err)
}

func TestRunStage_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stage := Stage[int, int]{
		Name:    "cancelled",
		Workers: 1,
		Process: func(ctx context.Context, n int) (int, error) {
			return n, nil
		},
	}

	results := RunStage(ctx, stage, []int{1, 2, 3})
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestRunStage_EmptyInput(t *testing.T) {
	stage := Stage[int, int]{Name: "empty", Workers: 2}
	assert.Nil(t, RunStage(context.Background(), stage, nil))
}
