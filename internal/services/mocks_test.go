package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/tripwire/internal/models"
)

// MockBlockRepository implements BlockRepository for testing
type MockBlockRepository struct {
	UpsertFunc func(ctx context.Context, record *models.BlockRecord) error

	mu      sync.Mutex
	records []models.BlockRecord
}

func (m *MockBlockRepository) Upsert(ctx context.Context, record *models.BlockRecord) error {
	m.mu.Lock()
	m.records = append(m.records, *record)
	m.mu.Unlock()
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, record)
	}
	return nil
}

func (m *MockBlockRepository) Calls() []models.BlockRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.BlockRecord(nil), m.records...)
}

// MockSessionRepository implements SessionRepository for testing
type MockSessionRepository struct {
	ListByIPFunc           func(ctx context.Context, ip string) ([]models.UserSession, error)
	DeleteSessionFunc      func(ctx context.Context, sessionID string) error
	DeleteTrackingFunc func(ctx context.Context, sessionIDs []string) (int64, error)

	deleted         []string
	trackingDeleted []string
	trackingCalls   int
}

func (m *MockSessionRepository) ListByIP(ctx context.Context, ip string) ([]models.UserSession, error) {
	if m.ListByIPFunc != nil {
		return m.ListByIPFunc(ctx, ip)
	}
	return nil, nil
}

func (m *MockSessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	m.deleted = append(m.deleted, sessionID)
	if m.DeleteSessionFunc != nil {
		return m.DeleteSessionFunc(ctx, sessionID)
	}
	return nil
}

func (m *MockSessionRepository) DeleteTracking(ctx context.Context, sessionIDs []string) (int64, error) {
	m.trackingCalls++
	m.trackingDeleted = append(m.trackingDeleted, sessionIDs...)
	if m.DeleteTrackingFunc != nil {
		return m.DeleteTrackingFunc(ctx, sessionIDs)
	}
	return int64(len(sessionIDs)), nil
}

// MockBlocklistMirror implements BlocklistMirror for testing
type MockBlocklistMirror struct {
	MirrorBlockFunc func(ctx context.Context, ip, reason string, ttl time.Duration) error

	mirrored map[string]time.Duration
}

func (m *MockBlocklistMirror) MirrorBlock(ctx context.Context, ip, reason string, ttl time.Duration) error {
	if m.mirrored == nil {
		m.mirrored = make(map[string]time.Duration)
	}
	m.mirrored[ip] = ttl
	if m.MirrorBlockFunc != nil {
		return m.MirrorBlockFunc(ctx, ip, reason, ttl)
	}
	return nil
}
