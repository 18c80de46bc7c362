package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/tripwire/internal/models"
	pkghttp "github.com/BradenHooton/tripwire/pkg/http"
)

// HealthChecker reports whether the block store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BlockLookup reads a single block record
type BlockLookup interface {
	GetByIP(ctx context.Context, ip string) (*models.BlockRecord, error)
}

// StateReporter exposes detector state sizes
type StateReporter interface {
	TrackedKeys() map[string]int
}

// BlockResponse is the ops view of a block record
type BlockResponse struct {
	IPAddress    string    `json:"ip_address"`
	Reason       string    `json:"reason"`
	BlockedAt    time.Time `json:"blocked_at"`
	BlockedUntil time.Time `json:"blocked_until"`
	Active       bool      `json:"active"`
}

// DetectorStateResponse describes the running detector
type DetectorStateResponse struct {
	Strategy    string         `json:"strategy"`
	TrackedKeys map[string]int `json:"tracked_keys,omitempty"`
}

// OpsHandler serves the operator endpoints. It is not a user-facing API.
type OpsHandler struct {
	health   HealthChecker
	blocks   BlockLookup
	state    StateReporter
	strategy string
	logger   *slog.Logger
	now      func() time.Time
}

// NewOpsHandler creates a new OpsHandler. state may be nil.
func NewOpsHandler(health HealthChecker, blocks BlockLookup, strategy string, state StateReporter, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{
		health:   health,
		blocks:   blocks,
		state:    state,
		strategy: strategy,
		logger:   logger,
		now:      time.Now,
	}
}

// Health handles GET /health
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.health.HealthCheck(ctx); err != nil {
		h.logger.Warn("health check failed", slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "Block store unreachable", "database: down")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
}

// GetBlock handles GET /blocks/{ip}
func (h *OpsHandler) GetBlock(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if _, err := netip.ParseAddr(ip); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid IP address")
		return
	}

	record, err := h.blocks.GetByIP(r.Context(), ip)
	if errors.Is(err, models.ErrNotFound) {
		pkghttp.WriteNotFound(w, "IP is not blocked")
		return
	}
	if err != nil {
		h.logger.Error("failed to look up block", slog.String("ip_address", ip), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to look up block")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, BlockResponse{
		IPAddress:    record.IPAddress,
		Reason:       record.Reason,
		BlockedAt:    record.BlockedAt,
		BlockedUntil: record.BlockedUntil,
		Active:       record.Active(h.now()),
	})
}

// DetectorState handles GET /detector/state
func (h *OpsHandler) DetectorState(w http.ResponseWriter, r *http.Request) {
	resp := DetectorStateResponse{Strategy: h.strategy}
	if h.state != nil {
		resp.TrackedKeys = h.state.TrackedKeys()
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}
