package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/BradenHooton/tripwire/internal/metrics"
	"github.com/BradenHooton/tripwire/internal/models"
	"github.com/BradenHooton/tripwire/pkg/logger"
)

// BlockRepository defines the interface for block persistence
type BlockRepository interface {
	Upsert(ctx context.Context, record *models.BlockRecord) error
}

// SessionRepository defines the interface for session revocation
type SessionRepository interface {
	ListByIP(ctx context.Context, ip string) ([]models.UserSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
	DeleteTracking(ctx context.Context, sessionIDs []string) (int64, error)
}

// BlocklistMirror publishes blocks to a secondary store
type BlocklistMirror interface {
	MirrorBlock(ctx context.Context, ip, reason string, ttl time.Duration) error
}

// EnforcementConfig holds configuration for enforcement behavior
type EnforcementConfig struct {
	// Timeout bounds one Enforce call. Cancellation of the caller's context
	// does not cut it short, so shutdown finishes the current block.
	Timeout         time.Duration
	RevokeSessions  bool
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	Allowlist       *Allowlist
	// Location is the zone block timestamps are written in. Nil means UTC.
	Location *time.Location
}

// DefaultEnforcementConfig returns production defaults
func DefaultEnforcementConfig() EnforcementConfig {
	return EnforcementConfig{
		Timeout:         5 * time.Second,
		RevokeSessions:  true,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// EnforcementService turns block decisions into persisted blocks and revoked sessions
type EnforcementService struct {
	blocks   BlockRepository
	sessions SessionRepository
	mirror   BlocklistMirror
	breaker  *gobreaker.CircuitBreaker[struct{}]
	config   EnforcementConfig
	audit    *logger.AuditLogger
	logger   *slog.Logger
	now      func() time.Time
}

// NewEnforcementService creates a new EnforcementService. sessions and mirror may be nil.
func NewEnforcementService(
	blocks BlockRepository,
	sessions SessionRepository,
	mirror BlocklistMirror,
	audit *logger.AuditLogger,
	config EnforcementConfig,
	log *slog.Logger,
) *EnforcementService {
	defaults := DefaultEnforcementConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = defaults.BreakerFailures
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = defaults.BreakerTimeout
	}
	if config.Location == nil {
		config.Location = time.UTC
	}

	s := &EnforcementService{
		blocks:   blocks,
		sessions: sessions,
		mirror:   mirror,
		config:   config,
		audit:    audit,
		logger:   log,
		now:      time.Now,
	}

	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "block-store",
		MaxRequests: 1,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
		// Rejected rows say nothing about store health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, models.ErrBadRequest)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return s
}

// Enforce blocks decision.IP until now+decision.Duration and, when enabled,
// revokes every web session opened from that IP.
//
// Only a failed block write is returned. Mirror and revocation failures are
// logged and counted; they never undo the block.
func (s *EnforcementService) Enforce(ctx context.Context, decision *models.BlockDecision) error {
	if decision == nil || decision.IP == "" {
		return fmt.Errorf("%w: empty block decision", models.ErrBadRequest)
	}

	if s.config.Allowlist.Contains(decision.IP) {
		s.logger.Warn("block skipped for allowlisted ip",
			slog.String("ip_address", decision.IP),
			slog.String("reason", decision.Reason))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Timeout)
	defer cancel()

	blockedAt := s.now().In(s.config.Location)
	record := &models.BlockRecord{
		IPAddress:    decision.IP,
		BlockedAt:    blockedAt,
		BlockedUntil: blockedAt.Add(decision.Duration),
		Reason:       decision.Reason,
	}

	if err := s.upsert(ctx, record); err != nil {
		s.audit.LogBlock(logger.BlockEvent{
			IPAddress: decision.IP,
			Reason:    decision.Reason,
			Detector:  decision.Detector,
			Username:  decision.Username,
			Success:   false,
			Error:     err.Error(),
		})
		return err
	}

	s.audit.LogBlock(logger.BlockEvent{
		IPAddress:    decision.IP,
		Reason:       decision.Reason,
		Detector:     decision.Detector,
		Username:     decision.Username,
		BlockedUntil: record.BlockedUntil,
		Success:      true,
	})

	s.mirrorBlock(ctx, record, decision.Duration)

	if s.config.RevokeSessions && s.sessions != nil {
		s.revokeSessions(ctx, decision.IP)
	}

	return nil
}

func (s *EnforcementService) upsert(ctx context.Context, record *models.BlockRecord) error {
	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.blocks.Upsert(ctx, record)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.RecordEnforcementFailure(metrics.StepBreaker)
		return fmt.Errorf("block %s: %w", record.IPAddress, models.ErrStoreUnavailable)
	}
	if err != nil {
		metrics.RecordEnforcementFailure(metrics.StepUpsert)
		return fmt.Errorf("block %s: %w", record.IPAddress, err)
	}
	return nil
}

func (s *EnforcementService) mirrorBlock(ctx context.Context, record *models.BlockRecord, ttl time.Duration) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.MirrorBlock(ctx, record.IPAddress, record.Reason, ttl); err != nil {
		metrics.RecordEnforcementFailure(metrics.StepMirror)
		s.logger.Warn("failed to mirror block",
			slog.String("ip_address", record.IPAddress),
			slog.Any("error", err))
	}
}

// revokeSessions deletes each session payload individually so one failure
// does not stop the rest, then drops the tracking rows of the revoked ones.
func (s *EnforcementService) revokeSessions(ctx context.Context, ip string) {
	sessions, err := s.sessions.ListByIP(ctx, ip)
	if err != nil {
		metrics.RecordEnforcementFailure(metrics.StepRevoke)
		s.logger.Error("failed to list sessions for blocked ip",
			slog.String("ip_address", ip),
			slog.Any("error", err))
		return
	}

	if len(sessions) == 0 {
		s.logger.Debug("no sessions to revoke", slog.String("ip_address", ip))
		return
	}

	failed := 0
	revokedIDs := make([]string, 0, len(sessions))
	usernames := make([]string, 0, len(sessions))
	for _, session := range sessions {
		if err := s.sessions.DeleteSession(ctx, session.SessionID); err != nil {
			failed++
			metrics.RecordEnforcementFailure(metrics.StepRevoke)
			s.logger.Error("failed to revoke session",
				slog.String("ip_address", ip),
				slog.String("session_id", session.SessionID),
				slog.Any("error", err))
			continue
		}
		revokedIDs = append(revokedIDs, session.SessionID)
		if session.Username != "" {
			usernames = append(usernames, session.Username)
		}
	}

	if len(revokedIDs) > 0 {
		if _, err := s.sessions.DeleteTracking(ctx, revokedIDs); err != nil {
			metrics.RecordEnforcementFailure(metrics.StepRevoke)
			s.logger.Error("failed to delete session tracking rows",
				slog.String("ip_address", ip),
				slog.Any("error", err))
		}
	}

	metrics.SessionsRevoked.Add(float64(len(revokedIDs)))
	s.audit.LogSessionRevocation(ip, len(revokedIDs), failed, usernames)
}
