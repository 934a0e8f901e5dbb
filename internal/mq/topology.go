package mq

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// declarer is the part of *amqp.Channel used to declare the broker topology
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Topology names the exchange, command queue and dead-letter queue of a consumer
type Topology struct {
	Exchange   string
	Queue      string
	RoutingKey string
	DLQ        string
}

// declareExchange declares a durable topic exchange
func declareExchange(ch declarer, name string) error {
	if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", name, err)
	}
	return nil
}

// deadLetterArgs routes rejected messages through the default exchange to dlq
func deadLetterArgs(dlq string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}
}

// declare sets up the exchange, the DLQ and the command queue with
// dead-lettering, bound to the exchange.
func (t Topology) declare(ch declarer) error {
	if err := declareExchange(ch, t.Exchange); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(t.DLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ %s: %w", t.DLQ, err)
	}
	return t.declareQueue(ch, deadLetterArgs(t.DLQ))
}

// declareWithoutDLX reuses a command queue that was created without
// dead-letter arguments. Failed messages on it are dropped.
func (t Topology) declareWithoutDLX(ch declarer) error {
	return t.declareQueue(ch, nil)
}

func (t Topology) declareQueue(ch declarer, args amqp.Table) error {
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.Queue, err)
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to %s: %w", t.Queue, t.Exchange, err)
	}
	return nil
}

// isPreconditionFailed reports whether the broker refused a redeclaration
// with different arguments. The broker closes the channel when it does.
func isPreconditionFailed(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed
}
