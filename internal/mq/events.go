package mq

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Flowy/internal/domain"
	"github.com/shaiso/Flowy/internal/engine"
)

// EventTransport: то, куда EventPublisher отправляет сообщения.
// Реализуется *Publisher.
type EventTransport interface {
	PublishEvent(ctx context.Context, payload EventPayload) error
	PublishInstanceReady(ctx context.Context, id uuid.UUID, reason string) error
}

// EventPublisher: engine.EventSink, публикующий события в flowy.events.
//
// После signal.received экземпляр, который может продолжить выполнение,
// дополнительно анонсируется в instances.ready. Ошибки публикации
// логируются и не влияют на выполнение.
type EventPublisher struct {
	transport EventTransport
	logger    *slog.Logger
}

// NewEventPublisher создаёт EventPublisher.
func NewEventPublisher(transport EventTransport, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{transport: transport, logger: logger}
}

// Emit публикует событие.
func (p *EventPublisher) Emit(ctx context.Context, event engine.Event) {
	if event.Instance == nil {
		return
	}
	payload := NewEventPayload(event)

	if err := p.transport.PublishEvent(ctx, payload); err != nil {
		p.logger.Warn("failed to publish event",
			"event", event.Type,
			"instance_id", payload.InstanceID,
			"error", err,
		)
	}

	if event.Type == engine.EventSignalReceived && wakeable(event.Instance, event.Signal) {
		if err := p.transport.PublishInstanceReady(ctx, payload.InstanceID, string(event.Type)); err != nil {
			p.logger.Warn("failed to publish instance.ready",
				"instance_id", payload.InstanceID,
				"error", err,
			)
		}
	}
}

// wakeable: экземпляр может продолжить выполнение после сигнала.
// Сигнал должен ещё лежать в очереди экземпляра.
func wakeable(inst *domain.WorkflowInstance, signal string) bool {
	if !inst.HasSignal(signal) {
		return false
	}
	switch inst.Status {
	case domain.StatusPending:
		return true
	case domain.StatusRunning:
		return inst.WaitingForSignal
	default:
		return false
	}
}

// NewEventPayload превращает событие движка в сообщение.
func NewEventPayload(event engine.Event) EventPayload {
	inst := event.Instance
	payload := EventPayload{
		Type:              string(event.Type),
		InstanceID:        inst.ID,
		DefinitionID:      inst.DefinitionID,
		DefinitionVersion: inst.DefinitionVersion,
		BusinessKey:       inst.BusinessKey,
		Status:            inst.Status.String(),
		StepID:            event.StepID,
		Action:            event.Action,
		TargetStep:        event.TargetStep,
		Signal:            event.Signal,
		OccurredAt:        event.OccurredAt,
	}
	if event.Err != nil {
		payload.Error = event.Err.Error()
	}
	return payload
}
