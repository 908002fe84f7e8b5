package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TickFunc runs one job iteration and returns the interval until the next
// one. Returning 0 keeps the current interval. This lets the strategy loop
// follow the analysis interval of whichever decision is currently active.
type TickFunc func(ctx context.Context) (time.Duration, error)

// JobConfig configures a job runner.
type JobConfig struct {
	Name           string
	Interval       time.Duration
	MaxBackoff     time.Duration
	RunImmediately bool
}

// JobRunner manages the lifecycle of a single background job whose
// interval may be adjusted by the job itself.
type JobRunner struct {
	config JobConfig
	fn     TickFunc
	logger *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobRunner creates a new job runner.
func NewJobRunner(config JobConfig, fn TickFunc, logger *slog.Logger) *JobRunner {
	return &JobRunner{
		config: config,
		fn:     fn,
		logger: logger,
	}
}

// Start starts the job runner in a goroutine.
func (r *JobRunner) Start(ctx context.Context) {
	jobCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(jobCtx)
	}()
}

// Stop stops the job runner and waits for it to finish.
func (r *JobRunner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *JobRunner) run(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "panic in job runner", "job", r.config.Name, "panic", rec)
		}
	}()

	interval := r.config.Interval
	backoff := time.Duration(0)

	tick := func() {
		next, err := r.fn(ctx)
		if err != nil {
			backoff = r.nextBackoff(backoff)
			r.logger.WarnContext(ctx, "job failed, backing off",
				"job", r.config.Name, "backoff", backoff, "error", err)
			return
		}
		if backoff > 0 {
			r.logger.InfoContext(ctx, "backoff cleared", "job", r.config.Name)
			backoff = 0
		}
		if next > 0 && next != interval {
			r.logger.InfoContext(ctx, "job interval adjusted",
				"job", r.config.Name, "previous", interval, "next", next)
			interval = next
		}
	}

	if r.config.RunImmediately {
		tick()
	}

	timer := time.NewTimer(r.waitFor(interval, backoff))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "job stopped", "job", r.config.Name)
			return
		case <-timer.C:
			tick()
			timer.Reset(r.waitFor(interval, backoff))
		}
	}
}

func (r *JobRunner) waitFor(interval, backoff time.Duration) time.Duration {
	if backoff > interval {
		return backoff
	}
	return interval
}

func (r *JobRunner) nextBackoff(current time.Duration) time.Duration {
	maxB := r.config.MaxBackoff
	if maxB == 0 {
		maxB = 5 * time.Minute
	}
	if current == 0 {
		return 30 * time.Second
	}
	next := current * 2
	if next > maxB {
		return maxB
	}
	return next
}

// JobGroup manages a collection of job runners.
type JobGroup struct {
	runners []*JobRunner
	ctx     context.Context
	logger  *slog.Logger
}

// NewJobGroup creates a new job group. The provided context is used for
// all runners added via Add.
func NewJobGroup(ctx context.Context, logger *slog.Logger) *JobGroup {
	return &JobGroup{ctx: ctx, logger: logger}
}

// Add adds a job runner to the group and starts it immediately.
func (g *JobGroup) Add(runner *JobRunner) {
	g.runners = append(g.runners, runner)
	g.logger.InfoContext(g.ctx, "starting job", "job", runner.config.Name)
	runner.Start(g.ctx)
}

// StopAll stops all jobs in the group and waits for them to finish.
func (g *JobGroup) StopAll() {
	for _, r := range g.runners {
		r.Stop()
	}
}
