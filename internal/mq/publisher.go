package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EventRoutingPrefix prefixes the event type to form the routing key
const EventRoutingPrefix = "billing.event."

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn          *Connection
	channel       *amqp.Channel
	exchange      string
	routingPrefix string
	logger        *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, err
	}

	return &Publisher{
		conn:          conn,
		channel:       ch,
		exchange:      exchange,
		routingPrefix: EventRoutingPrefix,
		logger:        logger,
	}, nil
}

// Event is the envelope of every billing event published after a commit
type Event struct {
	ID         string    `json:"event_id"`
	Type       string    `json:"event_type"`
	RequestID  string    `json:"request_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// PublishEvent publishes a billing event. The routing key is the routing
// prefix followed by the event type, e.g. "billing.event.invoice.finalized".
func (p *Publisher) PublishEvent(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	routingKey := p.routingPrefix + event.Type

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			MessageId:     event.ID,
			CorrelationId: event.RequestID,
			Timestamp:     event.OccurredAt,
			Type:          event.Type,
			Body:          body,
			DeliveryMode:  amqp.Persistent,
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published billing event",
		zap.String("routing_key", routingKey),
		zap.String("event_id", event.ID),
		zap.String("request_id", event.RequestID),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
