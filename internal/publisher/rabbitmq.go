package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"job_harvester/internal/domain"
)

// RabbitMQ publishes emitted jobs to a durable exchange with publisher
// confirms enabled, so Publish returns only once the broker has the message.
type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

type Config struct {
	URL          string
	Exchange     string
	ExchangeType string // direct (default) or topic
	RoutingKey   string
	QueueName    string
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	if cfg.ExchangeType == "" {
		cfg.ExchangeType = amqp.ExchangeDirect
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declare(ch, cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	logger = logger.With("component", "publisher")
	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

func declare(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, cfg.ExchangeType, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable confirms: %w", err)
	}
	return nil
}

// JobMessage is the body published for every emitted job.
type JobMessage struct {
	Action    string               `json:"action"` // always "discovered"
	Job       domain.NormalizedJob `json:"job"`
	Timestamp time.Time            `json:"timestamp"`
}

// Emit publishes job directly, so the publisher can serve as a cycle sink.
func (r *RabbitMQ) Emit(ctx context.Context, job domain.NormalizedJob) error {
	return r.Publish(ctx, &job)
}

func (r *RabbitMQ) Publish(ctx context.Context, job *domain.NormalizedJob) error {
	msg := JobMessage{
		Action:    "discovered",
		Job:       *job,
		Timestamp: time.Now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	confirm, err := r.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    job.Fingerprint,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return errors.New("publish message: nacked by broker")
	}

	r.logger.Debug("published job",
		"source", job.Source,
		"url", job.URL,
	)

	return nil
}

// Drain publishes jobs until the channel is closed or ctx is done. A failed
// publish is logged and the job dropped; draining continues.
func (r *RabbitMQ) Drain(ctx context.Context, jobs <-chan domain.NormalizedJob) (published, failed int) {
	for {
		select {
		case <-ctx.Done():
			return published, failed
		case job, ok := <-jobs:
			if !ok {
				return published, failed
			}
			if err := r.Publish(ctx, &job); err != nil {
				failed++
				r.logger.Error("failed to publish job",
					"source", job.Source,
					"url", job.URL,
					"error", err,
				)
				continue
			}
			published++
		}
	}
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
