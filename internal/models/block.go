package models

import "time"

// Reason tags persisted verbatim in blocked_ips.reason. The login web app
// displays them, so changing a value is a contract change.
const (
	ReasonBruteForce       = "Brute Force Detected"
	ReasonImpossibleTravel = "Impossible Travel Detected"
	ReasonQuickIPSwitch    = "Quick IP Switch Detected"
	ReasonMLAnomaly        = "ML Anomaly Detected"
)

// BlockDecision is the output of a detector: block IP for Duration because of Reason.
type BlockDecision struct {
	IP        string
	Reason    string
	Duration  time.Duration
	Username  string // context only, may be empty
	Detector  string
	DecidedAt time.Time
}

// BlockRecord mirrors a row of blocked_ips. ip_address is unique.
type BlockRecord struct {
	IPAddress    string    `db:"ip_address"`
	BlockedUntil time.Time `db:"blocked_until"`
	BlockedAt    time.Time `db:"blocked_at"`
	Reason       string    `db:"reason"`
}

// Active reports whether the block is still in force at t.
func (b *BlockRecord) Active(t time.Time) bool {
	return t.Before(b.BlockedUntil)
}
