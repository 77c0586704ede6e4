package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"prospect-engine/internal/infra/logging"
)

const (
	DLXName = "ex.pipeline.dlx"
	// Prefetch bounds unacked deliveries held by one consumer.
	Prefetch = 64
)

type RabbitMQ struct {
	Conn  *amqp.Connection
	Ch    *amqp.Channel
	Queue string
}

func NewRabbitMQ(url, queue string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := setupTopology(ch, queue); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Qos(Prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	return &RabbitMQ{Conn: conn, Ch: ch, Queue: queue}, nil
}

// setupTopology declares the event queue with a dead letter route so rejected
// events land in <queue>.dlq for inspection.
func setupTopology(ch *amqp.Channel, queue string) error {
	dlq := queue + ".dlq"

	if err := ch.ExchangeDeclare(DLXName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx: %w", err)
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq: %w", err)
	}
	if err := ch.QueueBind(dlq, queue, DLXName, false, nil); err != nil {
		return fmt.Errorf("bind dlq: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    DLXName,
		"x-dead-letter-routing-key": queue,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	return nil
}

func (r *RabbitMQ) Healthy() bool { return r != nil && !r.Conn.IsClosed() }

func (r *RabbitMQ) Close() error { return r.Conn.Close() }

// Consumer feeds deliveries from the event queue to an Ingester.
type Consumer struct {
	mq     *RabbitMQ
	ingest *Ingester
	log    *zerolog.Logger
}

func NewConsumer(mq *RabbitMQ, ingest *Ingester, log *zerolog.Logger) *Consumer {
	return &Consumer{mq: mq, ingest: ingest, log: logging.Component(log, "amqp_consumer")}
}

// Run blocks until ctx is cancelled or the broker closes the channel.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.mq.Ch.Consume(
		c.mq.Queue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}
	c.log.Info().Str("queue", c.mq.Queue).Msg("consuming pipeline events")
	return c.consume(ctx, msgs)
}

// consume acks a delivery once its event has been handled. Malformed
// payloads are dead-lettered; deliveries that could not be queued go back.
func (c *Consumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			err := c.ingest.Ingest(ctx, d.Body, func() { _ = d.Ack(false) })
			switch {
			case err == nil:
			case IsMalformed(err):
				_ = d.Nack(false, false)
			default:
				c.log.Warn().Err(err).Msg("requeueing delivery")
				_ = d.Nack(false, true)
			}
		}
	}
}
