package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType names the event a log line records (snake_case, stable for grepping).
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator's next step for a warning or error.
	FieldErrorHint = "error_hint"
	// FieldImpact carries the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldPassID identifies one reconciliation pass.
	FieldPassID = "pass_id"
	// FieldReason records why a reconciliation pass was triggered.
	FieldReason = "reason"
	// FieldBus is the stable key of a managed bus.
	FieldBus = "bus"
	// FieldDevice is the name of a physical output sink.
	FieldDevice = "device"
	// FieldStreamID is the volatile server index of an application stream.
	FieldStreamID = "stream_id"
	// FieldState is the daemon loop state.
	FieldState = "state"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

type contextKey int

const passIDKey contextKey = iota

// WithPassID tags ctx with the reconciliation pass identifier.
func WithPassID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, passIDKey, id)
}

// PassIDFromContext returns the pass identifier stored by WithPassID.
func PassIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(passIDKey).(string)
	return id, ok && id != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if id, ok := PassIDFromContext(ctx); ok {
		return []slog.Attr{slog.String(FieldPassID, id)}
	}
	return nil
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
