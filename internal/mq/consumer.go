package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"go.uber.org/zap"
)

// MessageHandler processes one command message body
type MessageHandler func(ctx context.Context, body []byte) error

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Connection    *Connection
	Topology      Topology
	PrefetchCount int
	Logger        *zap.Logger
	Handler       MessageHandler
}

// Consumer consumes billing commands from RabbitMQ and dead-letters failures
type Consumer struct {
	channel  *amqp.Channel
	topology Topology
	prefetch int
	logger   *zap.Logger
	handle   MessageHandler
}

// NewConsumer opens a channel and declares the command topology
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	ch, err := openChannel(cfg.Connection, cfg.PrefetchCount)
	if err != nil {
		return nil, err
	}

	err = cfg.Topology.declare(ch)
	if isPreconditionFailed(err) {
		cfg.Logger.Warn("command queue exists with different arguments, using it without DLX",
			zap.String("queue", cfg.Topology.Queue),
			zap.Error(err),
		)
		ch.Close()
		if ch, err = openChannel(cfg.Connection, cfg.PrefetchCount); err != nil {
			return nil, err
		}
		err = cfg.Topology.declareWithoutDLX(ch)
	}
	if err != nil {
		ch.Close()
		return nil, err
	}

	return &Consumer{
		channel:  ch,
		topology: cfg.Topology,
		prefetch: cfg.PrefetchCount,
		logger:   cfg.Logger.With(zap.String("queue", cfg.Topology.Queue)),
		handle:   cfg.Handler,
	}, nil
}

func openChannel(conn *Connection, prefetch int) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	return ch, nil
}

// Start begins delivering commands to the handler until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.topology.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("command consumer started", zap.Int("prefetch", c.prefetch))

	go c.run(ctx, deliveries)
	return nil
}

func (c *Consumer) run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer context cancelled, stopping")
			return
		case msg, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed")
				return
			}
			c.processMessage(ctx, msg)
		}
	}
}

// processMessage runs the handler and settles the delivery: ACK on success,
// otherwise NACK with requeue decided by shouldRequeue.
func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	logger := c.logger.With(
		zap.String("routing_key", msg.RoutingKey),
		zap.String("message_id", msg.MessageId),
		zap.Bool("redelivered", msg.Redelivered),
	)

	err := c.handle(ctx, msg.Body)
	if err == nil {
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Error("failed to ACK command", zap.Error(ackErr))
			return
		}
		logger.Debug("command acknowledged")
		return
	}

	requeue := shouldRequeue(err, msg.Redelivered)
	logger.Error("failed to process command", zap.Error(err), zap.Bool("requeue", requeue))
	if nackErr := msg.Nack(false, requeue); nackErr != nil {
		logger.Error("failed to NACK command", zap.Error(nackErr))
	}
}

// shouldRequeue gives infrastructure failures one more attempt. Everything
// else, and a second failure, goes to the DLQ.
func shouldRequeue(err error, redelivered bool) bool {
	return apperror.IsRetryable(err) && !redelivered
}

// Close closes the consumer channel
func (c *Consumer) Close() error {
	if c.channel != nil {
		return c.channel.Close()
	}
	return nil
}
