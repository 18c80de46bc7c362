//go:build integration

package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/tripwire/internal/database"
	"github.com/BradenHooton/tripwire/internal/repositories"
)

// seedSession writes a session the way the login web app does.
func seedSession(t *testing.T, db *database.DB, username, ip string) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	nowMs := time.Now().UnixMilli()

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO spring_session (primary_id, session_id, creation_time, last_access_time, max_inactive_interval, expiry_time, principal_name)
		VALUES ($1, $2, $3, $3, 1800, $4, $5)
	`, uuid.NewString(), id, nowMs, nowMs+1_800_000, username)
	require.NoError(t, err)

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO user_sessions (session_id, username, ip_address, created_at)
		VALUES ($1, $2, $3, NOW())
	`, id, username, ip)
	require.NoError(t, err)

	return id
}

func countRows(t *testing.T, db *database.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.Pool.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}

func TestSessionRepository_RevokeByIP(t *testing.T) {
	db := setupTestDatabase(t)
	repo := repositories.NewSessionRepository(db)
	ctx := context.Background()

	first := seedSession(t, db, "alice", "198.51.100.4")
	second := seedSession(t, db, "bob", "198.51.100.4")
	other := seedSession(t, db, "carol", "203.0.113.9")

	sessions, err := repo.ListByIP(ctx, "198.51.100.4")
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	ids := []string{sessions[0].SessionID, sessions[1].SessionID}
	assert.ElementsMatch(t, []string{first, second}, ids)

	for _, s := range sessions {
		require.NoError(t, repo.DeleteSession(ctx, s.SessionID))
	}
	deleted, err := repo.DeleteTracking(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM spring_session`))
	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM spring_session WHERE session_id = $1`, other))
	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM user_sessions`))
}

func TestSessionRepository_DeleteTrackingKeepsOtherSessions(t *testing.T) {
	db := setupTestDatabase(t)
	repo := repositories.NewSessionRepository(db)
	ctx := context.Background()

	revoked := seedSession(t, db, "alice", "198.51.100.4")
	kept := seedSession(t, db, "bob", "198.51.100.4")

	deleted, err := repo.DeleteTracking(ctx, []string{revoked})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	sessions, err := repo.ListByIP(ctx, "198.51.100.4")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, kept, sessions[0].SessionID)

	deleted, err = repo.DeleteTracking(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestSessionRepository_MissingSessionIsNotAnError(t *testing.T) {
	db := setupTestDatabase(t)
	repo := repositories.NewSessionRepository(db)

	err := repo.DeleteSession(context.Background(), uuid.NewString())
	assert.NoError(t, err)

	sessions, err := repo.ListByIP(context.Background(), "192.0.2.55")
	assert.NoError(t, err)
	assert.Empty(t, sessions)
}
