package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/tripwire/internal/metrics"
)

// BlockSweeper defines the block store operations the cleanup needs
type BlockSweeper interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	CountActive(ctx context.Context, t time.Time) (int64, error)
}

// CleanupManager periodically removes block records that expired more than
// retention ago. Expired rows are harmless to enforcement; they are kept for
// a while so operators can see recent history.
type CleanupManager struct {
	blocks    BlockSweeper
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	location  *time.Location
	now       func() time.Time
}

// NewCleanupManager creates a new cleanup manager. Cutoffs are expressed in
// location, the zone block timestamps are written in; nil means UTC.
func NewCleanupManager(
	blocks BlockSweeper,
	logger *slog.Logger,
	interval time.Duration,
	retention time.Duration,
	location *time.Location,
) *CleanupManager {
	if location == nil {
		location = time.UTC
	}
	return &CleanupManager{
		blocks:    blocks,
		logger:    logger,
		interval:  interval,
		retention: retention,
		location:  location,
		now:       time.Now,
	}
}

// Serve runs the periodic sweep until ctx is cancelled
func (cm *CleanupManager) Serve(ctx context.Context) error {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-ctx.Done():
			cm.logger.Info("cleanup manager stopped")
			return ctx.Err()
		}
	}
}

// String names the service in supervisor logs
func (cm *CleanupManager) String() string {
	return "block-cleanup"
}

// runCleanup removes expired blocks and refreshes the active block gauge
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := cm.now().In(cm.location)

	rowsDeleted, err := cm.blocks.DeleteExpired(cleanupCtx, now.Add(-cm.retention))
	if err != nil {
		cm.logger.Error("failed to cleanup expired blocks", slog.Any("error", err))
	} else if rowsDeleted > 0 {
		metrics.BlocksSwept.Add(float64(rowsDeleted))
		cm.logger.Info("expired block cleanup completed", slog.Int64("rows_deleted", rowsDeleted))
	}

	active, err := cm.blocks.CountActive(cleanupCtx, now)
	if err != nil {
		cm.logger.Error("failed to count active blocks", slog.Any("error", err))
		return
	}
	metrics.ActiveBlocks.Set(float64(active))
}
