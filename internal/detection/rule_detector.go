package detection

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/BradenHooton/tripwire/internal/geo"
	"github.com/BradenHooton/tripwire/internal/models"
)

// RuleConfig holds the thresholds of the rule-based detector.
type RuleConfig struct {
	// FailureThreshold is exceeded (strictly) to trigger a brute-force block.
	FailureThreshold int
	// MaxTravelSpeedKmH is the fastest plausible speed between two logins.
	MaxTravelSpeedKmH float64
	// QuickSwitchWindow flags a user moving to a different IP faster than this
	// when no coordinates are available.
	QuickSwitchWindow time.Duration
	// BlockDuration is applied to every decision from this detector.
	BlockDuration time.Duration
}

// DefaultRuleConfig returns the stock thresholds.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		FailureThreshold:  5,
		MaxTravelSpeedKmH: 500,
		QuickSwitchWindow: 60 * time.Second,
		BlockDuration:     15 * time.Minute,
	}
}

// RuleDetector detects brute force via a per-IP sliding window of failures,
// and account takeover via impossible travel or quick IP switches between
// consecutive successful logins of the same user.
type RuleDetector struct {
	config RuleConfig
	store  *WindowStore
	now    Clock
	logger *slog.Logger
}

// NewRuleDetector creates a rule-based detector over store.
func NewRuleDetector(store *WindowStore, config RuleConfig, logger *slog.Logger) *RuleDetector {
	return &RuleDetector{
		config: config,
		store:  store,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock replaces the processing-time source.
func (d *RuleDetector) SetClock(now Clock) {
	d.now = now
}

// Name identifies the strategy in logs and metrics.
func (d *RuleDetector) Name() string {
	return StrategyRule
}

// TrackedKeys reports the size of the state store.
func (d *RuleDetector) TrackedKeys() map[string]int {
	ips, users := d.store.Len()
	return map[string]int{"failure_windows": ips, "last_success": users}
}

// Analyze runs one event through the state machine.
//
// SUCCESS with a username: travel analysis against the previous success,
// then overwrite it and forgive the IP's failures. SUCCESS never reaches the
// failure branch. FAILURE: count inside the window and block once the count
// exceeds the threshold, then start a fresh window. Everything else is a
// no-op.
func (d *RuleDetector) Analyze(_ context.Context, event *models.LoginEvent) (*models.BlockDecision, error) {
	if event.IP == "" {
		return nil, nil
	}

	now := d.now()

	switch event.Status {
	case models.StatusSuccess:
		if event.Username == "" {
			return nil, nil
		}
		return d.analyzeSuccess(event, now), nil
	case models.StatusFailure:
		return d.analyzeFailure(event, now), nil
	default:
		return nil, nil
	}
}

func (d *RuleDetector) analyzeSuccess(event *models.LoginEvent, now time.Time) *models.BlockDecision {
	var decision *models.BlockDecision

	// Overwrite is unconditional: even a blocked login is the latest known location.
	prev, ok := d.store.RecordSuccess(event.Username, event.IP, now, event.Lat, event.Lon)
	if ok {
		decision = d.checkTravel(event, prev, now)
	}

	d.store.Clear(event.IP)

	return decision
}

func (d *RuleDetector) checkTravel(event *models.LoginEvent, prev LastSuccess, now time.Time) *models.BlockDecision {
	dt := now.Sub(prev.At)

	if event.HasCoordinates() && prev.HasCoordinates() {
		distanceKm := geo.Distance(*prev.Lat, *prev.Lon, *event.Lat, *event.Lon)
		speed := math.Inf(1)
		if dt > 0 {
			speed = distanceKm / dt.Hours()
		}
		if speed <= d.config.MaxTravelSpeedKmH {
			return nil
		}

		d.logger.Warn("impossible travel detected",
			slog.String("ip_address", event.IP),
			slog.String("previous_ip", prev.IP),
			slog.Float64("distance_km", math.Round(distanceKm*10)/10),
			slog.Duration("elapsed", dt),
			slog.Float64("speed_kmh", speed))
		return d.decision(event, models.ReasonImpossibleTravel, now)
	}

	if prev.IP != "" && prev.IP != event.IP && dt < d.config.QuickSwitchWindow {
		d.logger.Warn("quick ip switch detected",
			slog.String("ip_address", event.IP),
			slog.String("previous_ip", prev.IP),
			slog.Duration("elapsed", dt))
		return d.decision(event, models.ReasonQuickIPSwitch, now)
	}

	return nil
}

func (d *RuleDetector) analyzeFailure(event *models.LoginEvent, now time.Time) *models.BlockDecision {
	count := d.store.RecordFailure(event.IP, now)

	d.logger.Debug("failure recorded",
		slog.String("ip_address", event.IP),
		slog.Int("failures_in_window", count),
		slog.Duration("window", d.store.Window()))

	if count <= d.config.FailureThreshold {
		return nil
	}

	d.logger.Warn("brute force detected",
		slog.String("ip_address", event.IP),
		slog.Int("failures_in_window", count),
		slog.Int("threshold", d.config.FailureThreshold))

	// Start over so the next failure does not re-trigger immediately.
	d.store.Clear(event.IP)

	return d.decision(event, models.ReasonBruteForce, now)
}

func (d *RuleDetector) decision(event *models.LoginEvent, reason string, now time.Time) *models.BlockDecision {
	return &models.BlockDecision{
		IP:        event.IP,
		Reason:    reason,
		Duration:  d.config.BlockDuration,
		Username:  event.Username,
		Detector:  StrategyRule,
		DecidedAt: now,
	}
}
