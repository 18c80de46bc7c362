package logger

import (
	"context"
	"log/slog"
	"time"
)

// BlockEvent describes an enforced block for the audit trail
type BlockEvent struct {
	IPAddress    string
	Reason       string
	Detector     string
	Username     string
	BlockedUntil time.Time
	Success      bool
	Error        string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
	env    string
}

// NewAuditLogger creates a new audit logger. Usernames are masked when env
// is "production".
func NewAuditLogger(logger *slog.Logger, env string) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		env:    env,
	}
}

// LogBlock logs the outcome of a block upsert
func (al *AuditLogger) LogBlock(event BlockEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "enforcement"),
		slog.String("event_type", "ip_block"),
		slog.Bool("success", event.Success),
		slog.String("ip_address", event.IPAddress),
		slog.String("reason", event.Reason),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Detector != "" {
		attrs = append(attrs, slog.String("detector", event.Detector))
	}
	if event.Username != "" {
		attrs = append(attrs, al.username(event.Username))
	}
	if !event.BlockedUntil.IsZero() {
		attrs = append(attrs, slog.String("blocked_until", event.BlockedUntil.UTC().Format(time.RFC3339)))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}

	if event.Success {
		al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(context.Background(), slog.LevelError, "audit", attrs...)
	}
}

// LogSessionRevocation logs the sessions revoked for a blocked IP
func (al *AuditLogger) LogSessionRevocation(ipAddress string, revoked, failed int, usernames []string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "enforcement"),
		slog.String("event_type", "session_revocation"),
		slog.Bool("success", failed == 0),
		slog.String("ip_address", ipAddress),
		slog.Int("sessions_revoked", revoked),
		slog.Int("sessions_failed", failed),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if len(usernames) > 0 {
		masked := make([]string, len(usernames))
		for i, u := range usernames {
			masked[i] = al.username(u).Value.String()
		}
		attrs = append(attrs, slog.Any("usernames", masked))
	}

	if failed == 0 {
		al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
	}
}

func (al *AuditLogger) username(u string) slog.Attr {
	if al.env == "production" {
		return slog.String("username", SanitizedUsername(u))
	}
	return slog.String("username", u)
}
