package audit

import (
	"context"
	"log/slog"

	"leadgate/pkg/requestcontext"
)

// Emitter is the interface for audit event emission.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Logger provides structured audit logging with optional event emission.
// Use this in services to standardize audit logging patterns.
type Logger struct {
	textLogger *slog.Logger
	emitter    Emitter
}

// NewLogger creates an audit logger.
// textLogger is used for structured logging; emitter is optional.
func NewLogger(textLogger *slog.Logger, emitter Emitter) *Logger {
	return &Logger{
		textLogger: textLogger,
		emitter:    emitter,
	}
}

// Log records an informational audit event.
//
// Usage:
//
//	logger.Log(ctx, audit.EventLoginSucceeded, "subject_id", subjectID)
func (l *Logger) Log(ctx context.Context, event AuditEvent, attributes ...any) {
	l.log(ctx, slog.LevelInfo, event, attributes)
}

// Warn records a security-relevant audit event at WARN.
func (l *Logger) Warn(ctx context.Context, event AuditEvent, attributes ...any) {
	l.log(ctx, slog.LevelWarn, event, attributes)
}

// Error records an infrastructure fault as an audit event at ERROR.
func (l *Logger) Error(ctx context.Context, event AuditEvent, attributes ...any) {
	l.log(ctx, slog.LevelError, event, attributes)
}

func (l *Logger) log(ctx context.Context, level slog.Level, event AuditEvent, attributes []any) {
	if l == nil {
		return
	}
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}

	if l.textLogger != nil {
		args := append(attributes, "event", event.String(), "log_type", "audit")
		l.textLogger.Log(ctx, level, event.String(), args...)
	}

	if l.emitter == nil {
		return
	}
	err := l.emitter.Emit(ctx, Event{
		Timestamp:  requestcontext.Now(ctx),
		Action:     event.String(),
		Subject:    extractString(attributes, "subject"),
		Identifier: extractString(attributes, "identifier"),
		Decision:   extractString(attributes, "decision"),
		Reason:     extractString(attributes, "reason"),
		RequestID:  requestID,
	})
	if err != nil && l.textLogger != nil {
		l.textLogger.ErrorContext(ctx, "failed to emit audit event",
			"error", err,
			"event", event.String(),
		)
	}
}

// extractString finds key in a slog-style key/value list.
func extractString(attributes []any, key string) string {
	for i := 0; i+1 < len(attributes); i += 2 {
		if k, ok := attributes[i].(string); ok && k == key {
			if v, ok := attributes[i+1].(string); ok {
				return v
			}
		}
	}
	return ""
}
