package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/BradenHooton/tripwire/internal/database"
	"github.com/BradenHooton/tripwire/internal/models"
)

// BlockRepository handles database operations for blocked_ips
type BlockRepository struct {
	db *database.DB
}

// NewBlockRepository creates a new BlockRepository
func NewBlockRepository(db *database.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// Upsert inserts a block or, when the IP is already blocked, overwrites it.
// The single statement lets concurrent detectors race safely: the last
// writer's blocked_until and reason win and the row stays unique.
func (r *BlockRepository) Upsert(ctx context.Context, record *models.BlockRecord) error {
	query := `
		INSERT INTO blocked_ips (ip_address, blocked_until, blocked_at, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ip_address) DO UPDATE
		SET blocked_until = EXCLUDED.blocked_until,
		    blocked_at    = EXCLUDED.blocked_at,
		    reason        = EXCLUDED.reason
	`

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			record.IPAddress,
			record.BlockedUntil,
			record.BlockedAt,
			record.Reason,
		)
		return database.MapPostgresError(err)
	})
}

// GetByIP returns the block record for an IP
func (r *BlockRepository) GetByIP(ctx context.Context, ip string) (*models.BlockRecord, error) {
	query := `
		SELECT ip_address, blocked_until, blocked_at, COALESCE(reason, '')
		FROM blocked_ips
		WHERE ip_address = $1
	`

	var record models.BlockRecord
	err := r.db.Pool.QueryRow(ctx, query, ip).Scan(
		&record.IPAddress,
		&record.BlockedUntil,
		&record.BlockedAt,
		&record.Reason,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &record, nil
}

// CountActive returns the number of blocks still in force at t
func (r *BlockRepository) CountActive(ctx context.Context, t time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM blocked_ips WHERE blocked_until > $1`

	var count int64
	if err := r.db.Pool.QueryRow(ctx, query, t).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}

	return count, nil
}

// DeleteExpired removes blocks that ended before the cutoff
func (r *BlockRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM blocked_ips WHERE blocked_until < $1`

	result, err := r.db.Pool.Exec(ctx, query, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
