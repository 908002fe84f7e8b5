package orchestrator

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Result wraps the output of a stage worker with its error.
type Result[Out any] struct {
	Value Out
	Err   error
	Index int // Original index in the input slice
}

// Stage defines a concurrent processing stage with bounded worker slots.
type Stage[In, Out any] struct {
	Name    string
	Workers int64
	Process func(ctx context.Context, input In) (Out, error)
}

// RunStage executes the stage's Process function over all inputs with at
// most Workers concurrent invocations. Results are returned in input order.
// Inputs not yet started when the context is cancelled get the context
// error; in-flight invocations are left to finish or time out on their own.
func RunStage[In, Out any](ctx context.Context, stage Stage[In, Out], inputs []In) []Result[Out] {
	if len(inputs) == 0 {
		return nil
	}

	workers := stage.Workers
	if workers <= 0 {
		workers = 1
	}

	results := make([]Result[Out], len(inputs))
	sem := semaphore.NewWeighted(workers)

	for i, input := range inputs {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result[Out]{Err: err, Index: i}
			continue
		}
		go func(idx int, in In) {
			defer sem.Release(1)
			out, err := stage.Process(ctx, in)
			results[idx] = Result[Out]{Value: out, Err: err, Index: idx}
		}(i, input)
	}

	// Draining all slots waits for every started worker.
	_ = sem.Acquire(context.Background(), workers)
	return results
}
