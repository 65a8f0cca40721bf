package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"

	"github.com/pulse/internal/logger"
)

// Publisher sends envelopes; the routing key is Meta.Type.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Options for the AMQP publisher.
type Options struct {
	URL      string
	Exchange string
	// DialTimeout bounds the whole connect-with-backoff phase.
	DialTimeout time.Duration
}

type amqpPublisher struct {
	conn     *amqp.Connection
	exchange string
}

// Dial connects with exponential backoff and declares a durable topic exchange.
func Dial(ctx context.Context, opts Options) (Publisher, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 30 * time.Second
	}
	b := retry.WithMaxDuration(opts.DialTimeout, retry.WithCappedDuration(5*time.Second, retry.NewExponential(500*time.Millisecond)))

	var conn *amqp.Connection
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		c, err := amqp.Dial(opts.URL)
		if err != nil {
			logger.Warnf("events: amqp dial attempt %d failed: %v", attempt, err)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("events.Dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events.Dial channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events.Dial exchange: %w", err)
	}
	logger.Infof("events: connected, exchange=%s", opts.Exchange)
	return &amqpPublisher{conn: conn, exchange: opts.Exchange}, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events.Publish marshal: %w", err)
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("events.Publish channel: %w", err)
	}
	defer ch.Close()
	err = ch.PublishWithContext(ctx, p.exchange, env.Meta.Type, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Timestamp:     env.Meta.OccurredAt,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("events.Publish %s: %w", env.Meta.Type, err)
	}
	logger.Debugf("events: published %s id=%s", env.Meta.Type, env.Meta.ID)
	return nil
}

func (p *amqpPublisher) Close() error {
	return p.conn.Close()
}

// Fallback drops events with a log line. Used when AMQP_URL is empty.
type Fallback struct{}

func (Fallback) Publish(_ context.Context, env Envelope) error {
	logger.Debugf("events: broker disabled, skipped %s id=%s", env.Meta.Type, env.Meta.ID)
	return nil
}

func (Fallback) Close() error { return nil }

// Connect dials the broker when url is set and otherwise returns Fallback. A broker that
// stays unreachable also degrades to Fallback: events are best-effort.
func Connect(ctx context.Context, opts Options) Publisher {
	if opts.URL == "" {
		logger.Info("events: AMQP_URL not set, domain events disabled")
		return Fallback{}
	}
	p, err := Dial(ctx, opts)
	if err != nil {
		logger.Errorf("events: broker unavailable, domain events disabled: %v", err)
		return Fallback{}
	}
	return p
}

// Emit publishes in the background so request paths never wait on the broker.
func Emit(pub Publisher, env Envelope) {
	if pub == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pub.Publish(ctx, env); err != nil {
			logger.Warnf("events: publish %s: %v", env.Meta.Type, err)
		}
	}()
}
