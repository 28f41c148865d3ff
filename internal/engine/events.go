package engine

import (
	"context"
	"time"

	"github.com/shaiso/Flowy/internal/domain"
)

// EventType: тип события жизненного цикла.
type EventType string

// События выполнения.
const (
	EventWorkflowStarted        EventType = "workflow.started"
	EventStepEntered            EventType = "step.entered"
	EventStepExited             EventType = "step.exited"
	EventActionBefore           EventType = "action.before"
	EventActionAfter            EventType = "action.after"
	EventActionFailed           EventType = "action.failed"
	EventTransitionTaken        EventType = "transition.taken"
	EventWorkflowCompleted      EventType = "workflow.completed"
	EventWorkflowFailed         EventType = "workflow.failed"
	EventWorkflowRetryScheduled EventType = "workflow.retry_scheduled"
)

// События операций сервиса.
const (
	EventWorkflowPaused         EventType = "workflow.paused"
	EventWorkflowResumed        EventType = "workflow.resumed"
	EventWorkflowCancelled      EventType = "workflow.cancelled"
	EventWorkflowRetryRequested EventType = "workflow.retry_requested"
	EventSignalReceived         EventType = "signal.received"
)

// Event: событие жизненного цикла экземпляра.
//
// Instance: состояние на момент события. Приёмники не должны его изменять.
type Event struct {
	Type       EventType
	Instance   *domain.WorkflowInstance
	StepID     string
	Action     string
	TargetStep string // для transition.taken
	Signal     string // для signal.received
	Err        error  // для action.failed и workflow.failed
	OccurredAt time.Time
}

// EventSink принимает события.
//
// Emit вызывается синхронно из цикла выполнения; ошибки доставки
// приёмник обрабатывает сам.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// NopSink игнорирует события.
type NopSink struct{}

// Emit ничего не делает.
func (NopSink) Emit(context.Context, Event) {}

// SinkFunc адаптирует функцию к EventSink.
type SinkFunc func(ctx context.Context, event Event)

// Emit вызывает f.
func (f SinkFunc) Emit(ctx context.Context, event Event) {
	f(ctx, event)
}

// MultiSink рассылает событие всем приёмникам по порядку.
type MultiSink []EventSink

// Emit передаёт событие каждому приёмнику.
func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}
