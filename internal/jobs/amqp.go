package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/MimeLyc/rulebook-translator/internal/config"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

// Channel is the subset of *amqp.Channel the queue variant uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// DialAMQP connects to the broker, retrying with exponential backoff up to
// cfg.DialAttempts times.
func DialAMQP(ctx context.Context, cfg config.QueueConfig) (*amqp.Connection, error) {
	attempt := 0
	op := func() (*amqp.Connection, error) {
		attempt++
		conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
			Heartbeat: cfg.Heartbeat,
			Locale:    "en_US",
		})
		if err != nil {
			log.Warn("RabbitMQ dial attempt %d failed: %v", attempt, err)
			return nil, err
		}
		return conn, nil
	}

	conn, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(max(cfg.DialAttempts, 1)),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	log.Info("RabbitMQ connected")
	return conn, nil
}

// DeclareTopology declares the durable topic exchange and the request queue
// bound to it.
func DeclareTopology(ch Channel, cfg config.QueueConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	if _, err := ch.QueueDeclare(cfg.RequestQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.RequestQueue, err)
	}
	if err := ch.QueueBind(cfg.RequestQueue, cfg.RequestKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", cfg.RequestQueue, err)
	}
	return nil
}

// Publisher sends requests and completion events to the exchange.
type Publisher struct {
	ch  Channel
	cfg config.QueueConfig
}

func NewPublisher(ch Channel, cfg config.QueueConfig) *Publisher {
	return &Publisher{ch: ch, cfg: cfg}
}

func (p *Publisher) PublishCompletion(ctx context.Context, ev CompletionEvent, correlationID string) error {
	return p.publish(ctx, p.cfg.CompletedKey, ev, correlationID)
}

// PublishRequest enqueues a job and returns the correlation id it carries.
func (p *Publisher) PublishRequest(ctx context.Context, job TranslationJob) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}
	id := job.CorrelationID
	if id == "" {
		id = uuid.NewString()
	}
	return id, p.publish(ctx, p.cfg.RequestKey, job, id)
}

func (p *Publisher) publish(ctx context.Context, key string, v any, correlationID string) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(ctx, p.cfg.Exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: correlationID,
		MessageId:     uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Body:          body,
	})
}

// AMQPSource consumes translation requests with a prefetch of one, so the
// broker never hands this worker a second message before the first is
// acknowledged or rejected.
type AMQPSource struct {
	ch         Channel
	publisher  *Publisher
	deliveries <-chan amqp.Delivery
}

func NewAMQPSource(ch Channel, cfg config.QueueConfig) (*AMQPSource, error) {
	if err := DeclareTopology(ch, cfg); err != nil {
		return nil, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(cfg.RequestQueue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", cfg.RequestQueue, err)
	}
	log.Info("Waiting for translation requests on %s", cfg.RequestQueue)
	return &AMQPSource{
		ch:         ch,
		publisher:  NewPublisher(ch, cfg),
		deliveries: deliveries,
	}, nil
}

// Next waits for the next well formed request. Malformed bodies are rejected
// without requeueing and logged in full for manual inspection.
func (s *AMQPSource) Next(ctx context.Context) (*Delivery, error) {
	for {
		var msg amqp.Delivery
		var ok bool
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok = <-s.deliveries:
			if !ok {
				return nil, fmt.Errorf("rabbitmq delivery channel closed")
			}
		}

		job, err := DecodeJob(msg.Body)
		if err != nil {
			log.Error("Rejecting malformed message %s: %v; body: %s", msg.MessageId, err, string(msg.Body))
			if nerr := msg.Nack(false, false); nerr != nil {
				return nil, fmt.Errorf("reject malformed message: %w", nerr)
			}
			continue
		}
		job.CorrelationID = msg.CorrelationId
		log.Info("Received translation request for %s", job)

		return NewDelivery(job,
			func(ctx context.Context, res Result) error {
				if err := s.publisher.PublishCompletion(ctx, NewCompletionEvent(res), msg.CorrelationId); err != nil {
					log.Error("Failed to publish completion for %s: %v", job, err)
				}
				return msg.Ack(false)
			},
			func(ctx context.Context, reason error) error {
				log.Error("Rejected message %s without requeue: %v; body: %s", msg.MessageId, reason, string(msg.Body))
				return msg.Nack(false, false)
			},
		), nil
	}
}

func (s *AMQPSource) Close() error {
	return s.ch.Close()
}
