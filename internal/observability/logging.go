package observability

import (
	"context"
	"log/slog"
)

// LogContext holds structured logging context information.
type LogContext struct {
	PhaseID string
	State   string
	Child   string
	TraceID string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithPhaseID adds a phase ID to the context.
func WithPhaseID(ctx context.Context, phaseID string) context.Context {
	lc := extractLogContext(ctx)
	lc.PhaseID = phaseID
	return context.WithValue(ctx, logContextKey, lc)
}

// WithState adds the active orchestrator state to the context.
func WithState(ctx context.Context, state string) context.Context {
	lc := extractLogContext(ctx)
	lc.State = state
	return context.WithValue(ctx, logContextKey, lc)
}

// WithChild adds the active child name to the context.
func WithChild(ctx context.Context, child string) context.Context {
	lc := extractLogContext(ctx)
	lc.Child = child
	return context.WithValue(ctx, logContextKey, lc)
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	lc := extractLogContext(ctx)
	lc.TraceID = traceID
	return context.WithValue(ctx, logContextKey, lc)
}

func extractLogContext(ctx context.Context) LogContext {
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

// getLogAttrs returns slog attributes from the context's LogContext.
func getLogAttrs(ctx context.Context) []slog.Attr {
	lc := extractLogContext(ctx)
	attrs := []slog.Attr{}

	if lc.PhaseID != "" {
		attrs = append(attrs, slog.String("phase.id", lc.PhaseID))
	}
	if lc.State != "" {
		attrs = append(attrs, slog.String("state", lc.State))
	}
	if lc.Child != "" {
		attrs = append(attrs, slog.String("child", lc.Child))
	}
	if lc.TraceID != "" {
		attrs = append(attrs, slog.String("trace.id", lc.TraceID))
	}

	return attrs
}

// InfoContext logs an info message with context information.
func InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	contextAttrs := getLogAttrs(ctx)
	allAttrs := append(contextAttrs, attrs...)
	slog.LogAttrs(ctx, slog.LevelInfo, msg, allAttrs...)
}

// WarnContext logs a warning message with context information.
func WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	contextAttrs := getLogAttrs(ctx)
	allAttrs := append(contextAttrs, attrs...)
	slog.LogAttrs(ctx, slog.LevelWarn, msg, allAttrs...)
}

// ErrorContext logs an error message with context information.
func ErrorContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	contextAttrs := getLogAttrs(ctx)
	allAttrs := append(contextAttrs, attrs...)
	slog.LogAttrs(ctx, slog.LevelError, msg, allAttrs...)
}

// DebugContext logs a debug message with context information.
func DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	contextAttrs := getLogAttrs(ctx)
	allAttrs := append(contextAttrs, attrs...)
	slog.LogAttrs(ctx, slog.LevelDebug, msg, allAttrs...)
}

// GetContext returns the structured log context from the provided context.
func GetContext(ctx context.Context) LogContext {
	return extractLogContext(ctx)
}
