package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/BradenHooton/tripwire/internal/database"
	"github.com/BradenHooton/tripwire/internal/models"
)

// SessionRepository revokes web sessions written by the login web app.
// user_sessions maps session ids to client IPs; spring_session holds the
// session payloads.
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// ListByIP returns every tracked session opened from ip
func (r *SessionRepository) ListByIP(ctx context.Context, ip string) ([]models.UserSession, error) {
	query := `
		SELECT session_id, COALESCE(username, ''), ip_address, COALESCE(created_at, 'epoch'::timestamp)
		FROM user_sessions
		WHERE ip_address = $1
	`

	rows, err := r.db.Pool.Query(ctx, query, ip)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.UserSession, error) {
		var s models.UserSession
		err := row.Scan(&s.SessionID, &s.Username, &s.IPAddress, &s.CreatedAt)
		return s, err
	})
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return sessions, nil
}

// DeleteSession removes one session payload. A missing session is not an error.
func (r *SessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	query := `DELETE FROM spring_session WHERE session_id = $1`

	_, err := r.db.Pool.Exec(ctx, query, sessionID)
	return database.MapPostgresError(err)
}

// DeleteTracking removes the tracking rows of the given sessions. Rows of
// sessions that were not revoked stay, so a later block can still find them.
func (r *SessionRepository) DeleteTracking(ctx context.Context, sessionIDs []string) (int64, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}

	query := `DELETE FROM user_sessions WHERE session_id = ANY($1)`

	result, err := r.db.Pool.Exec(ctx, query, sessionIDs)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
