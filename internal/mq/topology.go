package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange: тип для имени обменника.
type Exchange string

// Queue: тип для имени очереди.
type Queue string

// RoutingKey: тип для ключа маршрутизации.
type RoutingKey string

// Exchanges: имена обменников.
const (
	ExchangeEvents    Exchange = "flowy.events"
	ExchangeInstances Exchange = "flowy.instances"
	ExchangeDLQ       Exchange = "flowy.dlq"
)

// Queues: имена очередей.
const (
	QueueInstancesReady Queue = "instances.ready"
	QueueDLQInstances   Queue = "dlq.instances"
)

// Routing keys.
const (
	RoutingKeyReady        RoutingKey = "ready"
	RoutingKeyDLQInstances RoutingKey = "instances"
)

// SetupTopology объявляет обменники и очереди. Операция идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		// Подписчики привязывают свои очереди по шаблону, например "workflow.*"
		{ExchangeEvents, amqp.ExchangeTopic},
		{ExchangeInstances, amqp.ExchangeDirect},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQInstances),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// instances.ready: битые сообщения уходят в DLQ
		{QueueInstancesReady, dlqArgs},
		{QueueDLQInstances, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueInstancesReady, RoutingKeyReady, ExchangeInstances},
		{QueueDLQInstances, RoutingKeyDLQInstances, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Flowy RabbitMQ Topology:

    flowy.events (topic)
    └── routing: <event type>, e.g. workflow.completed, signal.received
            Consumers: external subscribers

    flowy.instances (direct)
    └── instances.ready [routing: ready]
            Consumer: Worker
            DLQ: dlq.instances

    flowy.dlq (direct)
    └── dlq.instances [routing: instances]
            Manual processing
  `
}
