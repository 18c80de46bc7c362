// Package detection holds the two analysis strategies that turn login events
// into block decisions.
//
//	LoginEvent -> Detector.Analyze -> *BlockDecision -> enforcement
//
// RuleDetector applies sliding-window brute-force and impossible-travel rules.
// MLDetector builds a per-IP feature vector and asks a pre-trained anomaly
// model for a verdict. A deployment runs exactly one of them; both share the
// event schema and the decision type.
//
// Detector state is process-local and owned by the detector instance. Running
// more than one replica splits the key space per stream partition.
package detection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/tripwire/internal/anomaly"
	"github.com/BradenHooton/tripwire/internal/models"
)

// Strategy names accepted by DETECTOR_STRATEGY.
const (
	StrategyRule = "rule"
	StrategyML   = "ml"
)

// Detector analyzes one event at a time and returns at most one decision.
// Analyze is not safe for concurrent use on events sharing a key; the
// consumer calls it sequentially.
type Detector interface {
	Name() string
	Analyze(ctx context.Context, event *models.LoginEvent) (*models.BlockDecision, error)
}

// StateReporter is implemented by detectors that can report how many keys
// they currently track.
type StateReporter interface {
	TrackedKeys() map[string]int
}

// Clock returns the current processing time.
type Clock func() time.Time

// Options carries everything either strategy may need. Fields that do not
// apply to the selected strategy are ignored.
type Options struct {
	Rule            RuleConfig
	State           StateConfig
	AccumulatorTTL  time.Duration
	MLBlockDuration time.Duration
	Scorer          anomaly.Scorer
	Logger          *slog.Logger
}

// New builds the detector named by strategy.
func New(strategy string, opts Options) (Detector, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("detector", strategy))

	switch strategy {
	case StrategyRule:
		return NewRuleDetector(NewWindowStore(opts.State), opts.Rule, logger), nil
	case StrategyML:
		if opts.Scorer == nil {
			return nil, fmt.Errorf("strategy %q requires a scorer", strategy)
		}
		extractor := NewFeatureExtractor(opts.State.MaxKeys, opts.AccumulatorTTL)
		return NewMLDetector(extractor, opts.Scorer, opts.MLBlockDuration, logger), nil
	default:
		return nil, fmt.Errorf("unknown detector strategy %q", strategy)
	}
}
