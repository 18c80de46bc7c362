package detection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/tripwire/internal/anomaly"
	"github.com/BradenHooton/tripwire/internal/models"
)

// DefaultMLBlockDuration is applied to anomaly blocks when nothing is configured.
const DefaultMLBlockDuration = 30 * time.Minute

// MLDetector blocks IPs whose feature vector the anomaly model labels an outlier.
type MLDetector struct {
	extractor     *FeatureExtractor
	scorer        anomaly.Scorer
	blockDuration time.Duration
	logger        *slog.Logger
}

// NewMLDetector creates an ML-based detector.
func NewMLDetector(extractor *FeatureExtractor, scorer anomaly.Scorer, blockDuration time.Duration, logger *slog.Logger) *MLDetector {
	if blockDuration <= 0 {
		blockDuration = DefaultMLBlockDuration
	}
	return &MLDetector{
		extractor:     extractor,
		scorer:        scorer,
		blockDuration: blockDuration,
		logger:        logger,
	}
}

// Name identifies the strategy in logs and metrics.
func (d *MLDetector) Name() string {
	return StrategyML
}

// TrackedKeys reports the number of IP accumulators.
func (d *MLDetector) TrackedKeys() map[string]int {
	return map[string]int{"ip_accumulators": d.extractor.Len()}
}

// Analyze extracts features for the event's IP and scores them.
func (d *MLDetector) Analyze(_ context.Context, event *models.LoginEvent) (*models.BlockDecision, error) {
	if event.IP == "" {
		return nil, nil
	}

	features, err := d.extractor.Extract(event)
	if err != nil {
		return nil, err
	}

	labels, err := d.scorer.Predict([][]float64{features.Slice()})
	if err != nil {
		return nil, fmt.Errorf("score features: %w", err)
	}
	if len(labels) != 1 {
		return nil, fmt.Errorf("score features: expected 1 label, got %d", len(labels))
	}

	if labels[0] != anomaly.Outlier {
		d.logger.Debug("normal behavior", slog.String("ip_address", event.IP))
		return nil, nil
	}

	d.logger.Warn("ml anomaly detected",
		slog.String("ip_address", event.IP),
		slog.Any("features", features[:]))

	return &models.BlockDecision{
		IP:        event.IP,
		Reason:    models.ReasonMLAnomaly,
		Duration:  d.blockDuration,
		Username:  event.Username,
		Detector:  StrategyML,
		DecidedAt: d.extractor.now(),
	}, nil
}
