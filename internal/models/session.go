package models

import "time"

// UserSession mirrors a row of user_sessions, the IP-indexed tracking table the
// login web app writes on every successful login. The session payload itself
// lives in spring_session, keyed by the same session id.
type UserSession struct {
	SessionID string    `db:"session_id"`
	Username  string    `db:"username"`
	IPAddress string    `db:"ip_address"`
	CreatedAt time.Time `db:"created_at"`
}
