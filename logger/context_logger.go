package logger

import (
	"context"
	"log/slog"
)

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	OperationKey ContextKey = "operation"

	// Engine-specific business context keys, following OpenTelemetry
	// semantic conventions with the 'alt.' prefix.
	DecisionIDKey    ContextKey = "alt.decision.id"
	PipelineRunKey   ContextKey = "alt.pipeline.run_id"
	PipelineStageKey ContextKey = "alt.pipeline.stage"
)

// GlobalContext is the global ContextLogger instance.
var GlobalContext *ContextLogger

// ContextLogger wraps a slog.Logger to add context-aware logging.
type ContextLogger struct {
	logger *slog.Logger
}

// NewContextLogger creates a new ContextLogger wrapping the provided logger.
func NewContextLogger(logger *slog.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext returns a logger enriched with any engine context values
// present on ctx.
func (cl *ContextLogger) WithContext(ctx context.Context) *slog.Logger {
	args := make([]any, 0, 8)

	for _, key := range []ContextKey{RequestIDKey, OperationKey, DecisionIDKey, PipelineRunKey, PipelineStageKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			args = append(args, string(key), v)
		}
	}

	if len(args) == 0 {
		return cl.logger
	}
	return cl.logger.With(args...)
}

// WithDecision attaches a decision id to the context for downstream logging.
func WithDecision(ctx context.Context, decisionID string) context.Context {
	return context.WithValue(ctx, DecisionIDKey, decisionID)
}

// WithPipelineRun attaches a pipeline run id to the context.
func WithPipelineRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, PipelineRunKey, runID)
}

// WithPipelineStage attaches the current pipeline stage to the context.
func WithPipelineStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, PipelineStageKey, stage)
}
