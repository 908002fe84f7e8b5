// ABOUTME: Service entry point wiring config, drivers, repositories and services
// ABOUTME: Runs the REST server plus the strategy review and pool refill loops
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"recommendation-engine/budget"
	"recommendation-engine/config"
	"recommendation-engine/driver"
	backendapi "recommendation-engine/driver/backend_api"
	"recommendation-engine/logger"
	"recommendation-engine/metrics"
	"recommendation-engine/orchestrator"
	"recommendation-engine/otelinit"
	"recommendation-engine/repository"
	"recommendation-engine/rest"
	"recommendation-engine/retry"
	"recommendation-engine/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelCfg := otelinit.ConfigFromEnv()
	otelShutdown, err := otelinit.InitProvider(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "telemetry shutdown: %v\n", err)
		}
	}()

	log := logger.InitWithOTel(otelCfg.Enabled)
	ctxLogger := logger.GlobalContext

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	pool, err := driver.NewDBPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	if err := driver.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	kv := driver.NewKVStore(pool)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = driver.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to init redis client: %w", err)
		}
		defer redisClient.Close()
	}
	contextCache := driver.NewContextCache(redisClient, cfg.Redis.ContextCacheTTL)
	publisher := driver.NewStreamPublisher(redisClient, cfg.Redis.StreamKey, cfg.Redis.StreamMaxLen)

	augur := driver.NewAugurClient(cfg.Augur, log)
	backend := backendapi.NewClient(cfg.Backend, log)

	decisionRepo := repository.NewDecisionRepository(kv)
	refillRepo := repository.NewRefillStateRepository(kv)
	usageRepo := repository.NewUsageRepository(kv)
	poolRepo := repository.NewPoolRepository(kv)

	tracker := budget.NewTracker(cfg.Engine.DailyTokenBudget, log)
	seedBudget(ctx, tracker, usageRepo, log)

	retrier := retry.NewRetrier(retry.Config{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		BackoffFactor: cfg.Retry.BackoffFactor,
		JitterFactor:  cfg.Retry.JitterFactor,
	}, service.AugurErrorClassifier, log)

	collector := service.NewContextCollector(backend, usageRepo, poolRepo, tracker, contextCache, cfg.Engine, ctxLogger)
	strategySvc := service.NewStrategyService(decisionRepo, usageRepo, collector, augur, tracker, retrier, cfg.Engine, ctxLogger)
	refillPolicy := service.NewRefillPolicy(refillRepo, ctxLogger)
	lexical := service.NewLexicalScorer(cfg.Engine.LexicalScoreFloor)
	coldstart := service.NewColdStartRanker(cfg.Engine.ColdStartMinScore)
	pipeline, err := service.NewScoringPipeline(backend, augur, tracker, usageRepo, retrier, lexical, coldstart, cfg.Engine, ctxLogger)
	if err != nil {
		return err
	}
	refillSvc := service.NewRefillService(strategySvc, refillPolicy, pipeline, poolRepo, publisher, cfg.Engine, ctxLogger)

	counters := metrics.NewCollector()

	jobs := orchestrator.NewJobGroup(ctx, log)
	jobs.Add(orchestrator.NewJobRunner(orchestrator.JobConfig{
		Name:           "strategy-review",
		Interval:       cfg.Engine.ReviewTickInterval,
		RunImmediately: true,
	}, func(ctx context.Context) (time.Duration, error) {
		next, err := strategySvc.ReviewTick(ctx)
		if err != nil {
			counters.Inc(metrics.DecisionFailures)
		}
		return next, err
	}, log))
	jobs.Add(orchestrator.NewJobRunner(orchestrator.JobConfig{
		Name:     "pool-refill",
		Interval: cfg.Engine.RefillTickInterval,
	}, func(ctx context.Context) (time.Duration, error) {
		next, err := refillSvc.RefillTick(ctx)
		if err != nil {
			counters.Inc(metrics.RefillFailures)
		}
		return next, err
	}, log))
	defer jobs.StopAll()

	handler := rest.NewHandler(strategySvc, refillSvc, refillPolicy, usageRepo, tracker, counters, cfg, ctxLogger)
	e := handler.NewServer()
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Server.Port)
		if err := e.Start(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// seedBudget restores today's spend counters from the durable usage log so
// a restart does not forget money already spent.
func seedBudget(ctx context.Context, tracker *budget.Tracker, usage repository.UsageRepository, log *slog.Logger) {
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	summary, err := usage.SummarizeSince(ctx, startOfDay)
	if err != nil {
		log.Warn("failed to seed budget from usage log", "error", err)
		return
	}
	tracker.Seed(now.Format("2006-01-02"), summary.Tokens, summary.CostUSD)
}
