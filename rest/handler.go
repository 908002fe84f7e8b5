// ABOUTME: This file implements the REST surface of the engine using echo
// ABOUTME: Pool reads, strategy operations, refill controls and operational metrics
package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"recommendation-engine/apperrors"
	"recommendation-engine/budget"
	"recommendation-engine/config"
	"recommendation-engine/logger"
	"recommendation-engine/metrics"
	"recommendation-engine/repository"
	"recommendation-engine/service"

	"recommendation-engine/domain"
)

// Handler exposes the engine's HTTP API.
type Handler struct {
	strategy  *service.StrategyService
	refill    *service.RefillService
	policy    *service.RefillPolicy
	usage     repository.UsageRepository
	budget    *budget.Tracker
	collector *metrics.Collector
	cfg       *config.Config
	logger    *logger.ContextLogger
}

// NewHandler creates the REST handler.
func NewHandler(
	strategy *service.StrategyService,
	refill *service.RefillService,
	policy *service.RefillPolicy,
	usage repository.UsageRepository,
	tracker *budget.Tracker,
	collector *metrics.Collector,
	cfg *config.Config,
	ctxLogger *logger.ContextLogger,
) *Handler {
	return &Handler{
		strategy:  strategy,
		refill:    refill,
		policy:    policy,
		usage:     usage,
		budget:    tracker,
		collector: collector,
		cfg:       cfg,
		logger:    ctxLogger,
	}
}

// NewServer builds the echo instance with middleware and routes registered.
func (h *Handler) NewServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(h.requestContext)

	e.GET("/v1/health", h.Health)
	e.GET("/v1/recommendations", h.Recommendations)

	e.GET("/v1/strategy/current", h.CurrentStrategy)
	e.GET("/v1/strategy/history", h.StrategyHistory)
	e.POST("/v1/strategy/generate", h.GenerateStrategy)
	e.POST("/v1/strategy/invalidate", h.InvalidateStrategy)

	e.POST("/v1/refill", h.TriggerRefill)
	e.GET("/v1/refill/state", h.RefillState)
	e.POST("/v1/refill/reset", h.ResetRefillState)

	e.GET("/v1/usage/summary", h.UsageSummary)

	if h.cfg.Metrics.Enabled {
		e.GET(h.cfg.Metrics.Path, h.Metrics)
	}
	return e
}

// requestContext propagates the echo request id into the context so the
// context logger can pick it up.
func (h *Handler) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := context.WithValue(c.Request().Context(), logger.RequestIDKey, reqID)
		c.SetRequest(c.Request().WithContext(ctx))
		h.collector.Inc(metrics.RequestsServed)
		return next(c)
	}
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// Recommendations returns the current pool snapshot.
func (h *Handler) Recommendations(c echo.Context) error {
	snapshot, err := h.refill.Pool(c.Request().Context())
	if err != nil {
		return h.renderError(c, "fetch_pool", err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

// CurrentStrategy returns the active decision.
func (h *Handler) CurrentStrategy(c echo.Context) error {
	decision, err := h.strategy.GetCurrentDecision(c.Request().Context())
	if err != nil {
		return h.renderError(c, "current_strategy", err)
	}
	return c.JSON(http.StatusOK, decision)
}

// StrategyHistory returns recent decisions, newest first.
func (h *Handler) StrategyHistory(c echo.Context) error {
	limit := queryInt(c, "limit", 20)
	if limit < 1 || limit > h.cfg.Engine.DecisionHistoryLimit {
		limit = h.cfg.Engine.DecisionHistoryLimit
	}
	history, err := h.strategy.History(c.Request().Context(), limit)
	if err != nil {
		return h.renderError(c, "strategy_history", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"decisions": history})
}

// GenerateStrategy runs one decision cycle on demand.
func (h *Handler) GenerateStrategy(c echo.Context) error {
	decision, err := h.strategy.GenerateDecision(c.Request().Context())
	if err != nil {
		h.collector.Inc(metrics.DecisionFailures)
		return h.renderError(c, "generate_strategy", err)
	}
	h.collector.Inc(metrics.DecisionsGenerated)
	return c.JSON(http.StatusCreated, decision)
}

// InvalidateStrategy demotes the active decision.
func (h *Handler) InvalidateStrategy(c echo.Context) error {
	if err := h.strategy.InvalidateActive(c.Request().Context()); err != nil {
		return h.renderError(c, "invalidate_strategy", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// TriggerRefill runs a refill on demand. force=true skips the threshold
// and cooldown checks but still consumes quota.
func (h *Handler) TriggerRefill(c echo.Context) error {
	force, _ := strconv.ParseBool(c.QueryParam("force"))
	result, err := h.refill.Refill(c.Request().Context(), force)
	if err != nil {
		if errors.Is(err, domain.ErrRefillSuppressed) {
			h.collector.Inc(metrics.RefillsSuppressed)
		} else {
			h.collector.Inc(metrics.RefillFailures)
		}
		return h.renderError(c, "trigger_refill", err)
	}
	h.collector.Inc(metrics.RefillsCompleted)
	h.collector.Inc(metrics.PipelineRuns)
	if result.Degraded {
		h.collector.Inc(metrics.DegradedRuns)
	}
	if result.Mode == service.RunModeColdStart {
		h.collector.Inc(metrics.ColdStartRuns)
	}
	return c.JSON(http.StatusOK, result)
}

// RefillState returns the durable admission-control state.
func (h *Handler) RefillState(c echo.Context) error {
	state, err := h.policy.State(c.Request().Context())
	if err != nil {
		return h.renderError(c, "refill_state", err)
	}
	return c.JSON(http.StatusOK, state)
}

// ResetRefillState clears the refill counters. Operator escape hatch.
func (h *Handler) ResetRefillState(c echo.Context) error {
	if err := h.policy.Reset(c.Request().Context()); err != nil {
		return h.renderError(c, "reset_refill_state", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// UsageSummary aggregates token and cost usage over the trailing window.
func (h *Handler) UsageSummary(c echo.Context) error {
	days := queryInt(c, "days", 1)
	if days < 1 {
		days = 1
	}
	since := time.Now().AddDate(0, 0, -days)
	summary, err := h.usage.SummarizeSince(c.Request().Context(), since)
	if err != nil {
		return h.renderError(c, "usage_summary", err)
	}
	today := h.budget.Snapshot(time.Now())
	return c.JSON(http.StatusOK, map[string]any{
		"window_days":  days,
		"summary":      summary,
		"today":        today,
		"token_budget": h.budget.TokenBudget(),
	})
}

// Metrics returns the in-process counters.
func (h *Handler) Metrics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.collector.Snapshot())
}

// renderError maps domain errors to HTTP responses via AppContextError.
func (h *Handler) renderError(c echo.Context, operation string, err error) error {
	code := apperrors.CodeInternal
	switch {
	case errors.Is(err, domain.ErrNoActiveDecision),
		errors.Is(err, domain.ErrDecisionNotFound):
		code = apperrors.CodeNotFound
	case errors.Is(err, domain.ErrDecisionCapabilityUnavailable),
		errors.Is(err, domain.ErrScoringCapabilityUnavailable):
		code = apperrors.CodeCapabilityUnavailable
	case errors.Is(err, domain.ErrDecisionResponseMalformed):
		code = apperrors.CodeMalformedResponse
	case errors.Is(err, domain.ErrRefillSuppressed),
		errors.Is(err, domain.ErrCostCeilingReached):
		code = apperrors.CodeQuotaExceeded
	case errors.Is(err, domain.ErrNoCandidates):
		code = apperrors.CodeValidation
	case errors.Is(err, context.DeadlineExceeded):
		code = apperrors.CodeTimeout
	}

	appErr := apperrors.New(code, err.Error(), "rest", "handler", operation, err, nil)
	if appErr.HTTPStatusCode() >= http.StatusInternalServerError {
		h.logger.WithContext(c.Request().Context()).Error("request failed",
			"operation", operation, "error", err)
	}
	return c.JSON(appErr.HTTPStatusCode(), map[string]any{
		"code":    appErr.Code,
		"message": err.Error(),
	})
}

func queryInt(c echo.Context, name string, fallback int) int {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
