package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent is an audit record flattened for the local structured log
type AuditEvent struct {
	EventID        string
	EventType      string
	CRUD           string
	ActorID        string
	ActorName      string
	OrganizationID string
	TargetID       string
	TargetType     string
	IPAddress      string
	Success        bool
	Timestamp      time.Time
	Metadata       map[string]string
}

// AuditLogger writes audit events to the process log. It is the sink of last resort
// when the external audit transport is unconfigured or unavailable.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogEvent writes one audit event. Failures are logged at warn, everything else at info.
// Identities that look like email addresses are masked.
func (al *AuditLogger) LogEvent(ctx context.Context, event AuditEvent, fallbackReason string) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_id", event.EventID),
		slog.String("event_type", event.EventType),
		slog.String("crud", event.CRUD),
		slog.Bool("success", event.Success),
		slog.String("timestamp", ts.UTC().Format(time.RFC3339)),
	}

	if event.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", MaskIdentity(event.ActorID)))
	}
	if event.ActorName != "" {
		attrs = append(attrs, slog.String("actor_name", MaskIdentity(event.ActorName)))
	}
	if event.OrganizationID != "" {
		attrs = append(attrs, slog.String("organization_id", event.OrganizationID))
	}
	if event.TargetID != "" {
		attrs = append(attrs,
			slog.String("target_id", MaskIdentity(event.TargetID)),
			slog.String("target_type", event.TargetType),
		)
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if fallbackReason != "" {
		attrs = append(attrs, slog.String("sink_fallback", fallbackReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String("meta_"+key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}
