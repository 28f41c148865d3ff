package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType: тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeInstanceReady MessageType = "instance.ready"
	MessageTypeEvent         MessageType = "workflow.event"
)

// Message: конверт сообщения.
type Message struct {
	// ID: уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type: тип сообщения.
	Type MessageType `json:"type"`

	// Payload: полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp: время создания.
	Timestamp time.Time `json:"timestamp"`
}

// InstanceReadyPayload: экземпляр готов к обработке.
type InstanceReadyPayload struct {
	InstanceID uuid.UUID `json:"instance_id"`

	// Reason: что сделало экземпляр готовым (например, "signal.received").
	Reason string `json:"reason,omitempty"`
}

// EventPayload: событие жизненного цикла экземпляра.
type EventPayload struct {
	Type              string    `json:"type"`
	InstanceID        uuid.UUID `json:"instance_id"`
	DefinitionID      string    `json:"definition_id"`
	DefinitionVersion string    `json:"definition_version"`
	BusinessKey       string    `json:"business_key,omitempty"`
	Status            string    `json:"status"`
	StepID            string    `json:"step_id,omitempty"`
	Action            string    `json:"action,omitempty"`
	TargetStep        string    `json:"target_step,omitempty"`
	Signal            string    `json:"signal,omitempty"`
	Error             string    `json:"error,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
		now:    time.Now,
	}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,              // mandatory
			false,              // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishInstanceReady будит воркеры для экземпляра id.
// Потребитель: Worker.
func (p *Publisher) PublishInstanceReady(ctx context.Context, id uuid.UUID, reason string) error {
	return p.Publish(ctx, ExchangeInstances, RoutingKeyReady,
		p.newMessage(MessageTypeInstanceReady, InstanceReadyPayload{InstanceID: id, Reason: reason}))
}

// PublishEvent публикует событие жизненного цикла; routing key: тип события.
func (p *Publisher) PublishEvent(ctx context.Context, payload EventPayload) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKey(payload.Type),
		p.newMessage(MessageTypeEvent, payload))
}

func (p *Publisher) newMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: p.now(),
	}
}
