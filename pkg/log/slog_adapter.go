package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes trace events to an slog.Logger, for development use
// when broker activity should be visible on the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger. Errors log at Warn level,
// everything else at Debug.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote_addr", event.RemoteAddr))
	}
	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}
	if event.JobID != "" {
		attrs = append(attrs, slog.String("job_id", event.JobID))
	}

	level := slog.LevelDebug

	switch {
	case event.Message != nil:
		attrs = append(attrs,
			slog.String("msg_type", event.Message.Type.String()),
			slog.String("method", event.Message.Method),
		)
		if event.Message.RequestID != "" {
			attrs = append(attrs, slog.String("request_id", event.Message.RequestID))
		}
		if event.Message.ErrorCode != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Message.ErrorCode))
		}
		if event.Message.Size > 0 {
			attrs = append(attrs, slog.Int("size", event.Message.Size))
		}
		if event.Message.ProcessingTime != nil {
			attrs = append(attrs, slog.Duration("processing_time", *event.Message.ProcessingTime))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), level, "broker", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
