package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/tripwire/internal/models"
	"github.com/BradenHooton/tripwire/pkg/logger"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestEnforcementService(blocks BlockRepository, sessions SessionRepository, mirror BlocklistMirror, config EnforcementConfig) *EnforcementService {
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s := NewEnforcementService(blocks, sessions, mirror, logger.NewAuditLogger(log, "development"), config, log)
	s.now = func() time.Time { return fixedNow }
	return s
}

func bruteForceDecision(ip string) *models.BlockDecision {
	return &models.BlockDecision{
		IP:       ip,
		Reason:   models.ReasonBruteForce,
		Duration: 15 * time.Minute,
		Detector: "rule",
	}
}

func TestEnforcementServiceEnforce_WritesBlock(t *testing.T) {
	blocks := &MockBlockRepository{}
	service := newTestEnforcementService(blocks, nil, nil, DefaultEnforcementConfig())

	err := service.Enforce(context.Background(), bruteForceDecision("10.0.0.50"))

	require.NoError(t, err)
	calls := blocks.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "10.0.0.50", calls[0].IPAddress)
	assert.Equal(t, "Brute Force Detected", calls[0].Reason)
	assert.Equal(t, fixedNow, calls[0].BlockedAt)
	assert.Equal(t, fixedNow.Add(15*time.Minute), calls[0].BlockedUntil)
}

func TestEnforcementServiceEnforce_WritesInConfiguredZone(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	blocks := &MockBlockRepository{}
	config := DefaultEnforcementConfig()
	config.Location = berlin
	service := newTestEnforcementService(blocks, nil, nil, config)

	require.NoError(t, service.Enforce(context.Background(), bruteForceDecision("10.0.0.50")))

	calls := blocks.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].BlockedAt.Equal(fixedNow))
	assert.Equal(t, berlin, calls[0].BlockedAt.Location())
	assert.Equal(t, 10, calls[0].BlockedAt.Hour())
	assert.Equal(t, berlin, calls[0].BlockedUntil.Location())
}

func TestEnforcementServiceEnforce_RevokesSessions(t *testing.T) {
	blocks := &MockBlockRepository{}
	sessions := &MockSessionRepository{
		ListByIPFunc: func(ctx context.Context, ip string) ([]models.UserSession, error) {
			return []models.UserSession{
				{SessionID: "s1", Username: "alice", IPAddress: ip},
				{SessionID: "s2", Username: "bob", IPAddress: ip},
			}, nil
		},
	}
	service := newTestEnforcementService(blocks, sessions, nil, DefaultEnforcementConfig())

	err := service.Enforce(context.Background(), bruteForceDecision("10.0.0.50"))

	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, sessions.deleted)
	assert.Equal(t, []string{"s1", "s2"}, sessions.trackingDeleted)
}

func TestEnforcementServiceEnforce_PartialRevocationContinues(t *testing.T) {
	sessions := &MockSessionRepository{
		ListByIPFunc: func(ctx context.Context, ip string) ([]models.UserSession, error) {
			return []models.UserSession{{SessionID: "s1"}, {SessionID: "s2"}, {SessionID: "s3"}}, nil
		},
		DeleteSessionFunc: func(ctx context.Context, sessionID string) error {
			if sessionID == "s2" {
				return errors.New("lock timeout")
			}
			return nil
		},
	}
	service := newTestEnforcementService(&MockBlockRepository{}, sessions, nil, DefaultEnforcementConfig())

	err := service.Enforce(context.Background(), bruteForceDecision("10.0.0.50"))

	assert.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, sessions.deleted)
	assert.Equal(t, []string{"s1", "s3"}, sessions.trackingDeleted)
}

func TestEnforcementServiceEnforce_FailedRevocationsKeepTracking(t *testing.T) {
	sessions := &MockSessionRepository{
		ListByIPFunc: func(ctx context.Context, ip string) ([]models.UserSession, error) {
			return []models.UserSession{{SessionID: "s1"}, {SessionID: "s2"}}, nil
		},
		DeleteSessionFunc: func(ctx context.Context, sessionID string) error {
			return errors.New("lock timeout")
		},
	}
	service := newTestEnforcementService(&MockBlockRepository{}, sessions, nil, DefaultEnforcementConfig())

	err := service.Enforce(context.Background(), bruteForceDecision("10.0.0.50"))

	assert.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, sessions.deleted)
	assert.Zero(t, sessions.trackingCalls)
	assert.Empty(t, sessions.trackingDeleted)
}

func TestEnforcementServiceEnforce_RevocationFailuresDoNotFailBlock(t *testing.T) {
	tests := []struct {
		name     string
		sessions *MockSessionRepository
	}{
		{"list fails", &MockSessionRepository{
			ListByIPFunc: func(ctx context.Context, ip string) ([]models.UserSession, error) {
				return nil, errors.New("connection reset")
			},
		}},
		{"tracking delete fails", &MockSessionRepository{
			ListByIPFunc: func(ctx context.Context, ip string) ([]models.UserSession, error) {
				return []models.UserSession{{SessionID: "s1"}}, nil
			},
			DeleteTrackingFunc: func(ctx context.Context, sessionIDs []string) (int64, error) {
				return 0, errors.New("connection reset")
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := &MockBlockRepository{}
			service := newTestEnforcementService(blocks, tt.sessions, nil, DefaultEnforcementConfig())

			err := service.Enforce(context.Background(), bruteForceDecision("10.0.0.50"))

			assert.NoError(t, err)
			assert.Len(t, blocks.Calls(), 1)
		})
	}
}

func TestEnforcementServiceEnforce_ListFailureSkipsDeletes(t *testing.T) {
	sessions := &MockSessionRepository{
		ListByIPFunc: func(ctx context.Context, ip string) ([]models.UserSession, error) {
			return nil, errors.New("connection reset")
		},
	}
	service := newTestEnforcementService(&MockBlockRepository{}, sessions, nil, DefaultEnforcementConfig())

	_ = service.Enforce(context.Background(), bruteForceDecision("10.0.0.50"))

	assert.Empty(t, sessions.deleted)
	assert.Empty(t, sessions.trackingDeleted)
}

func TestEnforcementServiceEnforce_UpsertFailure(t *testing.T) {
	dbErr := errors.New("relation \"blocked_ips\" does not exist")
	blocks := &MockBlockRepository{
		UpsertFunc: func(ctx context.Context, record *models.BlockRecord) error { return dbErr },
	}
	sessions := &MockSessionRepository{}
	mirror := &MockBlocklistMirror{}
	service := newTestEnforcementService(blocks, sessions, mirror, DefaultEnforcementConfig())

	err := service.Enforce(context.Background(), bruteForceDecision("10.0.0.50"))

	assert.ErrorIs(t, err, dbErr)
	assert.Empty(t, sessions.deleted)
	assert.Empty(t, sessions.trackingDeleted)
	assert.Empty(t, mirror.mirrored)
}

func TestEnforcementServiceEnforce_RevocationDisabled(t *testing.T) {
	sessions := &MockSessionRepository{
		ListByIPFunc: func(ctx context.Context, ip string) ([]models.UserSession, error) {
			t.Fatal("sessions must not be listed")
			return nil, nil
		},
	}
	config := DefaultEnforcementConfig()
	config.RevokeSessions = false
	service := newTestEnforcementService(&MockBlockRepository{}, sessions, nil, config)

	assert.NoError(t, service.Enforce(context.Background(), bruteForceDecision("10.0.0.50")))
}

func TestEnforcementServiceEnforce_MirrorsBlock(t *testing.T) {
	mirror := &MockBlocklistMirror{}
	service := newTestEnforcementService(&MockBlockRepository{}, nil, mirror, DefaultEnforcementConfig())

	err := service.Enforce(context.Background(), bruteForceDecision("10.0.0.50"))

	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, mirror.mirrored["10.0.0.50"])
}

func TestEnforcementServiceEnforce_MirrorFailureIgnored(t *testing.T) {
	mirror := &MockBlocklistMirror{
		MirrorBlockFunc: func(ctx context.Context, ip, reason string, ttl time.Duration) error {
			return errors.New("redis: connection refused")
		},
	}
	sessions := &MockSessionRepository{
		ListByIPFunc: func(ctx context.Context, ip string) ([]models.UserSession, error) {
			return []models.UserSession{{SessionID: "s1"}}, nil
		},
	}
	service := newTestEnforcementService(&MockBlockRepository{}, sessions, mirror, DefaultEnforcementConfig())

	err := service.Enforce(context.Background(), bruteForceDecision("10.0.0.50"))

	assert.NoError(t, err)
	assert.Equal(t, []string{"s1"}, sessions.deleted)
}

func TestEnforcementServiceEnforce_BreakerOpens(t *testing.T) {
	upserts := 0
	blocks := &MockBlockRepository{
		UpsertFunc: func(ctx context.Context, record *models.BlockRecord) error {
			upserts++
			return errors.New("dial tcp: connection refused")
		},
	}
	config := DefaultEnforcementConfig()
	config.BreakerFailures = 3
	config.BreakerTimeout = time.Hour
	service := newTestEnforcementService(blocks, nil, nil, config)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := service.Enforce(ctx, bruteForceDecision("10.0.0.50"))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, models.ErrStoreUnavailable)
	}

	err := service.Enforce(ctx, bruteForceDecision("10.0.0.51"))
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Equal(t, 3, upserts)
}

func TestEnforcementServiceEnforce_BadRowsDoNotTripBreaker(t *testing.T) {
	blocks := &MockBlockRepository{
		UpsertFunc: func(ctx context.Context, record *models.BlockRecord) error {
			return models.ErrBadRequest
		},
	}
	config := DefaultEnforcementConfig()
	config.BreakerFailures = 1
	service := newTestEnforcementService(blocks, nil, nil, config)

	for i := 0; i < 3; i++ {
		err := service.Enforce(context.Background(), bruteForceDecision("10.0.0.50"))
		assert.ErrorIs(t, err, models.ErrBadRequest)
	}
	assert.Len(t, blocks.Calls(), 3)
}

func TestEnforcementServiceEnforce_SurvivesCallerCancellation(t *testing.T) {
	var sawCanceled bool
	blocks := &MockBlockRepository{
		UpsertFunc: func(ctx context.Context, record *models.BlockRecord) error {
			sawCanceled = ctx.Err() != nil
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return nil
		},
	}
	service := newTestEnforcementService(blocks, nil, nil, DefaultEnforcementConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, service.Enforce(ctx, bruteForceDecision("10.0.0.50")))
	assert.False(t, sawCanceled)
}

func TestEnforcementServiceEnforce_Allowlisted(t *testing.T) {
	allowlist, err := ParseAllowlist("10.0.0.0/8")
	require.NoError(t, err)
	blocks := &MockBlockRepository{}
	config := DefaultEnforcementConfig()
	config.Allowlist = allowlist
	service := newTestEnforcementService(blocks, nil, nil, config)

	assert.NoError(t, service.Enforce(context.Background(), bruteForceDecision("10.0.0.50")))
	assert.Empty(t, blocks.Calls())

	assert.NoError(t, service.Enforce(context.Background(), bruteForceDecision("203.0.113.5")))
	assert.Len(t, blocks.Calls(), 1)
}

func TestEnforcementServiceEnforce_RejectsEmptyDecision(t *testing.T) {
	service := newTestEnforcementService(&MockBlockRepository{}, nil, nil, DefaultEnforcementConfig())

	assert.ErrorIs(t, service.Enforce(context.Background(), nil), models.ErrBadRequest)
	assert.ErrorIs(t, service.Enforce(context.Background(), &models.BlockDecision{}), models.ErrBadRequest)
}
