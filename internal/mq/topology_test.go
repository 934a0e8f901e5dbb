package mq

import (
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type declaredQueue struct {
	name string
	args amqp.Table
}

// fakeChannel records declarations and fails the queues named in failQueue
type fakeChannel struct {
	exchanges []string
	queues    []declaredQueue
	bindings  []string
	failQueue map[string]error
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.exchanges = append(f.exchanges, kind+":"+name)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if err, ok := f.failQueue[name]; ok {
		return amqp.Queue{}, err
	}
	f.queues = append(f.queues, declaredQueue{name: name, args: args})
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.bindings = append(f.bindings, fmt.Sprintf("%s<-%s[%s]", name, exchange, key))
	return nil
}

var commands = Topology{
	Exchange:   "billing.commands",
	Queue:      "billing.commands.queue",
	RoutingKey: "billing.command.#",
	DLQ:        "billing.commands.dlq",
}

func TestTopologyDeclare(t *testing.T) {
	ch := &fakeChannel{}

	require.NoError(t, commands.declare(ch))

	assert.Equal(t, []string{"topic:billing.commands"}, ch.exchanges)
	require.Len(t, ch.queues, 2)
	assert.Equal(t, "billing.commands.dlq", ch.queues[0].name)
	assert.Nil(t, ch.queues[0].args)
	assert.Equal(t, "billing.commands.queue", ch.queues[1].name)
	assert.Equal(t, "billing.commands.dlq", ch.queues[1].args["x-dead-letter-routing-key"])
	assert.Equal(t, "", ch.queues[1].args["x-dead-letter-exchange"])
	assert.Equal(t, []string{"billing.commands.queue<-billing.commands[billing.command.#]"}, ch.bindings)
}

func TestTopologyDeclare_ExistingQueueWithoutDLX(t *testing.T) {
	mismatch := &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - inequivalent arg"}
	ch := &fakeChannel{failQueue: map[string]error{commands.Queue: mismatch}}

	err := commands.declare(ch)
	require.Error(t, err)
	assert.True(t, isPreconditionFailed(err))
	assert.Empty(t, ch.bindings)

	reopened := &fakeChannel{}
	require.NoError(t, commands.declareWithoutDLX(reopened))
	require.Len(t, reopened.queues, 1)
	assert.Nil(t, reopened.queues[0].args)
	assert.Len(t, reopened.bindings, 1)
}

func TestIsPreconditionFailed(t *testing.T) {
	assert.False(t, isPreconditionFailed(nil))
	assert.False(t, isPreconditionFailed(errors.New("connection refused")))
	assert.False(t, isPreconditionFailed(&amqp.Error{Code: amqp.NotFound}))
	assert.True(t, isPreconditionFailed(fmt.Errorf("declare: %w", &amqp.Error{Code: amqp.PreconditionFailed})))
}
