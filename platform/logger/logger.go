// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// TenantIDKey is the context key for tenant ID
	TenantIDKey contextKey = "tenant_id"
	// LeadIDKey is the context key for lead ID
	LeadIDKey contextKey = "lead_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
// Supports request_id, tenant_id, and lead_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("request_id", requestID))}
	}

	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok && tenantID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("tenant_id", tenantID))}
	}

	if leadID, ok := ctx.Value(LeadIDKey).(string); ok && leadID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("lead_id", leadID))}
	}

	return newLogger
}

// WithLead returns a logger with the lead ID attached.
func (l *Logger) WithLead(leadID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("lead_id", leadID)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// IngestRejected logs a rejected engagement event with the rejection reason.
func (l *Logger) IngestRejected(platform, eventType, reason string) {
	l.Warn("ingest_rejected",
		slog.String("platform", platform),
		slog.String("event_type", eventType),
		slog.String("reason", reason),
	)
}

// PipelineError logs a per-lead pipeline failure. Pipeline errors are
// isolated to the lead's partition and never stop other partitions.
func (l *Logger) PipelineError(stage, leadID string, err error) {
	l.Error("pipeline_error",
		slog.String("stage", stage),
		slog.String("lead_id", leadID),
		slog.String("error", err.Error()),
	)
}

// DispatchFailure logs a failed outbound action dispatch.
func (l *Logger) DispatchFailure(channel, leadID string, permanent bool, err error) {
	l.Error("dispatch_failure",
		slog.String("channel", channel),
		slog.String("lead_id", leadID),
		slog.Bool("permanent", permanent),
		slog.String("error", err.Error()),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs governor denials.
func (l *Logger) RateLimitExceeded(leadID, channel, reason string) {
	l.Warn("rate_limit_exceeded",
		slog.String("lead_id", leadID),
		slog.String("channel", channel),
		slog.String("reason", reason),
	)
}
