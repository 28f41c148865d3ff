package engine

import (
	"context"
	"log/slog"

	"github.com/shaiso/Flowy/internal/telemetry"
)

// LogSink пишет события в лог.
//
// Сбои (action.failed, workflow.failed): на уровне Warn,
// завершение и операции сервиса: Info, остальное: Debug.
type LogSink struct {
	Logger *slog.Logger
}

// Emit логирует событие.
func (s LogSink) Emit(ctx context.Context, event Event) {
	logger := s.Logger
	if logger == nil {
		logger = telemetry.FromContext(ctx)
	}

	attrs := []any{"event", event.Type}
	if inst := event.Instance; inst != nil {
		attrs = append(attrs,
			"instance_id", inst.ID,
			"definition_id", inst.DefinitionID,
			"status", inst.Status,
		)
	}
	if event.StepID != "" {
		attrs = append(attrs, "step_id", event.StepID)
	}
	if event.Action != "" {
		attrs = append(attrs, "action", event.Action)
	}
	if event.TargetStep != "" {
		attrs = append(attrs, "target_step", event.TargetStep)
	}
	if event.Signal != "" {
		attrs = append(attrs, "signal", event.Signal)
	}
	if event.Err != nil {
		attrs = append(attrs, "error", event.Err)
	}

	logger.Log(ctx, eventLevel(event.Type), "workflow event", attrs...)
}

func eventLevel(t EventType) slog.Level {
	switch t {
	case EventActionFailed, EventWorkflowFailed:
		return slog.LevelWarn
	case EventWorkflowCompleted, EventWorkflowRetryScheduled,
		EventWorkflowPaused, EventWorkflowResumed, EventWorkflowCancelled,
		EventWorkflowRetryRequested:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// MetricsSink учитывает события в Prometheus метриках.
type MetricsSink struct {
	Metrics *telemetry.Metrics
}

// Emit увеличивает счётчики события.
func (s MetricsSink) Emit(_ context.Context, event Event) {
	definitionID := ""
	if event.Instance != nil {
		definitionID = event.Instance.DefinitionID
	}

	s.Metrics.ObserveEvent(string(event.Type), definitionID)
	if event.Type == EventActionFailed {
		s.Metrics.ObserveActionFailure(definitionID, event.StepID)
	}
}
