package eventsource

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
)

// SubscriberConfig configures the JetStream consumer.
type SubscriberConfig struct {
	URL            string
	DurableName    string
	QueueGroup     string
	StreamName     string
	AckWaitTimeout time.Duration
	MaxAckPending  int
	CloseTimeout   time.Duration
	MaxReconnects  int
	ReconnectWait  time.Duration
}

// DefaultSubscriberConfig returns production defaults for url.
func DefaultSubscriberConfig(url string) SubscriberConfig {
	return SubscriberConfig{
		URL:            url,
		DurableName:    "tripwire",
		QueueGroup:     "tripwire",
		AckWaitTimeout: 30 * time.Second,
		MaxAckPending:  1,
		CloseTimeout:   30 * time.Second,
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
	}
}

// NewSubscriber creates a durable JetStream subscriber.
//
// One subscriber goroutine with MaxAckPending 1 keeps delivery ordered within
// the consumer. Acks are synchronous: an event is acknowledged only once it
// has been handled.
func NewSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	natsOpts := []natsgo.Option{
		natsgo.Name("tripwire"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("stream disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("stream reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.MaxAckPending(cfg.MaxAckPending),
		natsgo.AckWait(cfg.AckWaitTimeout),
		natsgo.DeliverAll(),
	}

	autoProvision := true
	if cfg.StreamName != "" {
		subOpts = append(subOpts, natsgo.BindStream(cfg.StreamName))
		autoProvision = false
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision:    autoProvision,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create stream subscriber: %w", err)
	}

	return sub, nil
}
