// Package consumer runs the orchestration loop: pull one event, analyze it
// with the configured detector, enforce the decision, acknowledge.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/BradenHooton/tripwire/internal/detection"
	"github.com/BradenHooton/tripwire/internal/eventsource"
	"github.com/BradenHooton/tripwire/internal/geo"
	"github.com/BradenHooton/tripwire/internal/metrics"
	"github.com/BradenHooton/tripwire/internal/models"
	pkglogger "github.com/BradenHooton/tripwire/pkg/logger"
)

// ErrSubscriptionClosed is returned by Serve when the stream closes the
// message channel while the consumer is still running.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Enforcer applies a block decision
type Enforcer interface {
	Enforce(ctx context.Context, decision *models.BlockDecision) error
}

// Consumer processes events strictly one at a time in delivery order.
type Consumer struct {
	subscriber message.Subscriber
	topic      string
	detector   detection.Detector
	enforcer   Enforcer
	resolver   geo.Resolver
	logger     *slog.Logger
	env        string
}

// Option configures a Consumer
type Option func(*Consumer)

// WithResolver fills in coordinates for events that arrive without them.
func WithResolver(r geo.Resolver) Option {
	return func(c *Consumer) { c.resolver = r }
}

// WithEnv controls masking of personal data in logs.
func WithEnv(env string) Option {
	return func(c *Consumer) { c.env = env }
}

// New creates a consumer of topic
func New(subscriber message.Subscriber, topic string, detector detection.Detector, enforcer Enforcer, logger *slog.Logger, opts ...Option) *Consumer {
	c := &Consumer{
		subscriber: subscriber,
		topic:      topic,
		detector:   detector,
		enforcer:   enforcer,
		logger:     logger.With(slog.String("topic", topic), slog.String("detector", detector.Name())),
		env:        "development",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Serve subscribes and processes messages until ctx is cancelled. The event
// in flight when ctx is cancelled is finished and acknowledged first.
//
// Every message is acknowledged, whatever happened to it: a bad or failing
// event is logged and skipped, never redelivered.
func (c *Consumer) Serve(ctx context.Context) error {
	messages, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.topic, err)
	}

	c.logger.Info("consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped")
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrSubscriptionClosed
			}
			c.Process(ctx, msg)
			msg.Ack()
		}
	}
}

// String names the service in supervisor logs
func (c *Consumer) String() string {
	return "consumer"
}

// Process handles one message. It never panics and never returns an error;
// every failure is logged and counted.
func (c *Consumer) Process(ctx context.Context, msg *message.Message) {
	start := time.Now()

	eventID := msg.UUID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	log := c.logger.With(slog.String("event_id", eventID))

	defer func() {
		if p := recover(); p != nil {
			metrics.RecordDetectorError(c.detector.Name())
			log.Error("panic while processing event",
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	event, err := eventsource.Decode(msg.Payload)
	if err != nil {
		metrics.EventsInvalid.Inc()
		log.Warn("dropping undecodable event", slog.Any("error", err), slog.Int("payload_bytes", len(msg.Payload)))
		return
	}

	c.enrich(event)

	decision, err := c.detector.Analyze(ctx, event)
	if err != nil {
		metrics.RecordDetectorError(c.detector.Name())
		log.Error("detector failed",
			slog.String("ip_address", event.IP),
			slog.Any("error", err))
		return
	}

	if decision != nil {
		metrics.RecordDecision(decision.Detector, decision.Reason)
		log.Warn("blocking ip",
			slog.String("ip_address", decision.IP),
			slog.String("reason", decision.Reason),
			slog.Duration("duration", decision.Duration),
			pkglogger.RedactedAttr("username", event.Username, c.env))

		if err := c.enforcer.Enforce(ctx, decision); err != nil {
			log.Error("enforcement failed",
				slog.String("ip_address", decision.IP),
				slog.String("reason", decision.Reason),
				slog.Any("error", err))
		}
	}

	if reporter, ok := c.detector.(detection.StateReporter); ok {
		metrics.UpdateTrackedKeys(reporter.TrackedKeys())
	}

	metrics.RecordEvent(c.detector.Name(), statusLabel(event.Status), time.Since(start))
}

// enrich resolves coordinates from the IP when the producer sent none.
// Coordinates supplied upstream are never overwritten.
func (c *Consumer) enrich(event *models.LoginEvent) {
	if c.resolver == nil || event.IP == "" || event.HasCoordinates() {
		return
	}
	lat, lon, ok := c.resolver.Lookup(event.IP)
	if !ok {
		return
	}
	event.Lat = &lat
	event.Lon = &lon
}

// statusLabel bounds the label cardinality of the events counter.
func statusLabel(s models.Status) string {
	if s.Known() {
		return string(s)
	}
	return "OTHER"
}
