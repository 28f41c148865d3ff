package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Flowy/internal/domain"
	"github.com/shaiso/Flowy/internal/repo"
	"github.com/shaiso/Flowy/internal/telemetry"
)

// Default configuration values.
const (
	DefaultMaxStepsPerCycle = 100
	DefaultClaimTimeout     = 5 * time.Minute
)

// Outcome: результат одного вызова Proceed.
type Outcome string

const (
	// OutcomeSkipped: экземпляр не в PENDING/RUNNING, ничего не сделано.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeNotDue: PENDING экземпляр с расписанием в будущем.
	OutcomeNotDue Outcome = "not_due"

	// OutcomeCompleted: workflow завершён.
	OutcomeCompleted Outcome = "completed"

	// OutcomeWaiting: экземпляр ждёт сигнала.
	OutcomeWaiting Outcome = "waiting"

	// OutcomeRetryScheduled: действие упало, повтор запланирован.
	OutcomeRetryScheduled Outcome = "retry_scheduled"

	// OutcomeTimedOut: шаг просрочен, экземпляр в FAILED.
	OutcomeTimedOut Outcome = "timed_out"

	// OutcomeFailed: экземпляр переведён в FAILED.
	OutcomeFailed Outcome = "failed"

	// OutcomeYielded: исчерпан лимит шагов за цикл, продолжит следующий вызов.
	OutcomeYielded Outcome = "yielded"
)

// Executor продвигает экземпляры по шагам определения.
//
// Один вызов Proceed: один цикл: выполнить действия текущего шага,
// выбрать переход, перейти и повторить, пока workflow не завершится,
// не начнёт ждать сигнала или повтора. Состояние сохраняется после
// каждого перехода.
type Executor struct {
	store       repo.Store
	definitions DefinitionSource
	actions     ActionResolver
	conditions  ConditionResolver
	events      EventSink

	maxSteps     int
	claimTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// Config: конфигурация Executor.
type Config struct {
	Store       repo.Store
	Definitions DefinitionSource

	// Actions и Conditions: разрешение ссылок (default: DirectResolver).
	Actions    ActionResolver
	Conditions ConditionResolver

	// Events: приёмник событий (default: NopSink).
	Events EventSink

	// MaxStepsPerCycle: лимит переходов за один Proceed (default: 100).
	MaxStepsPerCycle int

	// ClaimTimeout: через сколько экземпляр, захваченный упавшим
	// воркером, снова станет доступен (default: 5m).
	ClaimTimeout time.Duration

	// Clock: источник времени (default: time.Now).
	Clock func() time.Time

	Logger *slog.Logger
}

// NewExecutor создаёт Executor.
func NewExecutor(cfg Config) *Executor {
	e := &Executor{
		store:        cfg.Store,
		definitions:  cfg.Definitions,
		actions:      cfg.Actions,
		conditions:   cfg.Conditions,
		events:       cfg.Events,
		maxSteps:     cfg.MaxStepsPerCycle,
		claimTimeout: cfg.ClaimTimeout,
		now:          cfg.Clock,
		logger:       cfg.Logger,
	}

	if e.actions == nil {
		e.actions = DirectResolver{}
	}
	if e.conditions == nil {
		e.conditions = DirectResolver{}
	}
	if e.events == nil {
		e.events = NopSink{}
	}
	if e.maxSteps <= 0 {
		e.maxSteps = DefaultMaxStepsPerCycle
	}
	if e.claimTimeout <= 0 {
		e.claimTimeout = DefaultClaimTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = telemetry.WithComponent(e.logger, "executor")

	return e
}

// Proceed выполняет один цикл экземпляра id.
//
// Ошибки:
//   - ErrInstanceNotFound: экземпляра нет;
//   - repo.ErrConflict: экземпляр сохранил другой воркер, состояние отброшено;
//   - *ActionError: действие упало без права на повтор, экземпляр в FAILED;
//   - прочие ошибки (нет определения или шага, сбой условия) переводят
//     экземпляр в FAILED и возвращаются как есть.
//
// Таймаут шага: не ошибка: OutcomeTimedOut и nil.
func (e *Executor) Proceed(ctx context.Context, id uuid.UUID) (Outcome, error) {
	inst, err := e.store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return OutcomeSkipped, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
		return OutcomeSkipped, fmt.Errorf("load instance: %w", err)
	}

	switch inst.Status {
	case domain.StatusPending:
		if inst.ScheduledAt != nil && inst.ScheduledAt.After(e.now()) {
			return OutcomeNotDue, nil
		}
	case domain.StatusRunning:
	default:
		return OutcomeSkipped, nil
	}

	logger := telemetry.WithDefinition(
		telemetry.WithInstanceID(e.logger, id.String()),
		inst.DefinitionID, inst.DefinitionVersion,
	)

	outcome, err := e.cycle(ctx, inst, logger)
	if err == nil {
		logger.Debug("cycle finished", "outcome", outcome, "step_id", inst.CurrentStepID)
		return outcome, nil
	}

	var actionErr *ActionError
	switch {
	case errors.Is(err, repo.ErrConflict):
		logger.Debug("instance changed concurrently, cycle discarded")
		return OutcomeSkipped, err
	case errors.Is(err, errPersist), ctx.Err() != nil:
		logger.Error("cycle interrupted", "error", err)
		return OutcomeSkipped, err
	case errors.As(err, &actionErr):
		return OutcomeFailed, err
	}

	return OutcomeFailed, e.failInstance(ctx, inst, err, logger)
}

// cycle: тело Proceed. Ошибка без пометки errPersist переводит экземпляр в FAILED.
func (e *Executor) cycle(ctx context.Context, inst *domain.WorkflowInstance, logger *slog.Logger) (Outcome, error) {
	def, err := e.definitions.Get(inst.DefinitionID, inst.DefinitionVersion)
	if err != nil {
		return "", err
	}

	// Захват: пока цикл идёт, экземпляр не готов к обработке другими воркерами,
	// а после падения процесса снова станет готов через claimTimeout.
	lease := e.now().Add(e.claimTimeout)
	inst.ScheduledAt = &lease
	if err := e.save(ctx, inst); err != nil {
		return "", err
	}

	for transitions := 0; ; {
		stepID := inst.CurrentStepID
		if stepID == "" {
			stepID = def.InitialStepID
		}
		step, ok := def.Step(stepID)
		if !ok {
			return "", fmt.Errorf("%w: %q in %s", ErrStepNotFound, stepID, def.Key())
		}

		now := e.now()
		inst.StampStepStart(now)

		if inst.StepTimedOut(step.TimeoutDuration(), now) {
			return e.timeOut(ctx, inst, step, logger)
		}

		if inst.Status == domain.StatusPending {
			message := "Workflow started"
			if inst.CurrentStepID != "" {
				message = fmt.Sprintf("Workflow resumed at step %s (attempt %d)", step.ID, inst.RetryAttempts+1)
			}
			if err := inst.Start(step.ID, now); err != nil {
				return "", err
			}
			inst.AddHistory(now, message, step.ID)
			e.emit(ctx, Event{Type: EventWorkflowStarted, Instance: inst, StepID: step.ID})
		}

		if !inst.WaitingForSignal {
			e.emit(ctx, Event{Type: EventStepEntered, Instance: inst, StepID: step.ID})
			if outcome, stop, err := e.runActions(ctx, inst, step, logger); stop {
				return outcome, err
			}
			e.emit(ctx, Event{Type: EventStepExited, Instance: inst, StepID: step.ID})
		}

		next, waiting, err := e.selectTransition(ctx, inst, step)
		if err != nil {
			return "", err
		}

		now = e.now()
		switch {
		case next != nil:
			inst.EnterStep(next.Target, now)
			inst.AddHistory(now, fmt.Sprintf("Transition %s -> %s", step.ID, next.Target), next.Target)
			e.emit(ctx, Event{Type: EventTransitionTaken, Instance: inst, StepID: step.ID, TargetStep: next.Target})

			transitions++
			if transitions >= e.maxSteps {
				inst.ScheduledAt = &now
				if err := e.save(ctx, inst); err != nil {
					return "", err
				}
				logger.Warn("step limit per cycle reached, yielding", "limit", e.maxSteps, "step_id", inst.CurrentStepID)
				return OutcomeYielded, nil
			}
			if err := e.save(ctx, inst); err != nil {
				return "", err
			}

		case waiting:
			if !inst.WaitingForSignal {
				inst.AddHistory(now, "Waiting for signal: "+strings.Join(awaitedEvents(step), ", "), step.ID)
			}
			inst.WaitingForSignal = true
			inst.ScheduledAt = nil
			if timeout := step.TimeoutDuration(); timeout > 0 {
				deadline := inst.StepStartedAt.Add(timeout)
				inst.ScheduledAt = &deadline
			}
			if err := e.save(ctx, inst); err != nil {
				return "", err
			}
			return OutcomeWaiting, nil

		default:
			if err := inst.MarkCompleted(); err != nil {
				return "", err
			}
			inst.AddHistory(now, "Workflow completed", step.ID)
			if err := e.save(ctx, inst); err != nil {
				return "", err
			}
			e.emit(ctx, Event{Type: EventWorkflowCompleted, Instance: inst, StepID: step.ID})
			logger.Info("workflow completed", "step_id", step.ID)
			return OutcomeCompleted, nil
		}
	}
}

// runActions выполняет действия шага по порядку.
// Сбой разрешения ссылки обрабатывается как сбой самого действия.
// stop = true: цикл завершён (повтор, сбой или ошибка).
func (e *Executor) runActions(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepDefinition, logger *slog.Logger) (Outcome, bool, error) {
	for _, action := range step.Actions {
		name := action.Identifier()
		e.emit(ctx, Event{Type: EventActionBefore, Instance: inst, StepID: step.ID, Action: name})

		fn, err := e.actions.ResolveAction(action)
		if err != nil {
			err = fmt.Errorf("resolve action %s: %w", name, err)
		} else {
			err = fn(ctx, inst.Context, action.Parameters)
		}
		if err != nil {
			outcome, err := e.handleActionFailure(ctx, inst, step, name, err, logger)
			return outcome, true, err
		}

		e.emit(ctx, Event{Type: EventActionAfter, Instance: inst, StepID: step.ID, Action: name})
	}
	return "", false, nil
}

// handleActionFailure планирует повтор по RetryPolicy шага или переводит экземпляр в FAILED.
func (e *Executor) handleActionFailure(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepDefinition, action string, cause error, logger *slog.Logger) (Outcome, error) {
	now := e.now()
	inst.RetryAttempts++
	attempt := inst.RetryAttempts

	e.emit(ctx, Event{Type: EventActionFailed, Instance: inst, StepID: step.ID, Action: action, Err: cause})

	if policy := step.RetryPolicy; policy != nil && policy.CanRetry(attempt) {
		delay, err := policy.DelayForAttempt(attempt)
		if err != nil {
			return "", err
		}
		at := now.Add(delay)
		if err := inst.ScheduleRetry(at, cause.Error()); err != nil {
			return "", err
		}
		inst.AddHistory(now, fmt.Sprintf("Action %s failed (attempt %d of %d), retry at %s: %v",
			action, attempt, policy.Attempts, at.Format(time.RFC3339), cause), step.ID)

		if err := e.save(ctx, inst); err != nil {
			return "", err
		}
		e.emit(ctx, Event{Type: EventWorkflowRetryScheduled, Instance: inst, StepID: step.ID, Action: action, Err: cause})
		logger.Warn("action failed, retry scheduled",
			"step_id", step.ID,
			"action", action,
			"attempt", attempt,
			"delay", delay,
			"error", cause,
		)
		return OutcomeRetryScheduled, nil
	}

	actionErr := &ActionError{StepID: step.ID, Action: action, Attempt: attempt, Err: cause}
	if err := inst.MarkFailed(cause.Error()); err != nil {
		return "", err
	}
	inst.AddHistory(now, fmt.Sprintf("Action %s failed: %v", action, cause), step.ID)
	if err := e.save(ctx, inst); err != nil {
		return "", err
	}
	e.emit(ctx, Event{Type: EventWorkflowFailed, Instance: inst, StepID: step.ID, Action: action, Err: actionErr})
	logger.Error("action failed, no retries left",
		"step_id", step.ID,
		"action", action,
		"attempt", attempt,
		"error", cause,
	)
	return OutcomeFailed, actionErr
}

// timeOut переводит экземпляр с просроченным шагом в FAILED.
func (e *Executor) timeOut(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepDefinition, logger *slog.Logger) (Outcome, error) {
	now := e.now()
	message := "Step timed out after " + step.Timeout

	if err := inst.MarkFailed(message); err != nil {
		return "", err
	}
	inst.AddHistory(now, message, step.ID)
	if err := e.save(ctx, inst); err != nil {
		return "", err
	}
	e.emit(ctx, Event{Type: EventWorkflowFailed, Instance: inst, StepID: step.ID, Err: errors.New(message)})
	logger.Warn("step timed out", "step_id", step.ID, "timeout", step.Timeout)
	return OutcomeTimedOut, nil
}

// selectTransition возвращает первый подходящий переход.
//
// Переход по событию срабатывает, если в очереди есть сигнал с этим
// именем: сигнал удаляется, его payload записывается в контекст.
// waiting = true, если ни один переход не сработал, но есть ожидающие сигнала.
func (e *Executor) selectTransition(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepDefinition) (*domain.TransitionDefinition, bool, error) {
	waiting := false

	for i := range step.Transitions {
		t := &step.Transitions[i]

		if t.IsEventGated() {
			signal, ok := inst.ConsumeSignal(t.Event)
			if !ok {
				waiting = true
				continue
			}
			if err := inst.Context.Merge(signal.Payload); err != nil {
				return nil, false, fmt.Errorf("apply signal %s payload: %w", signal.Name, err)
			}
			inst.AddHistory(e.now(), "Signal consumed: "+signal.Name, step.ID)
			return t, false, nil
		}

		predicate, err := e.conditions.ResolveCondition(*t)
		if err != nil {
			return nil, false, fmt.Errorf("resolve condition of %s -> %s: %w", step.ID, t.Target, err)
		}
		if predicate == nil {
			return t, false, nil
		}

		ok, err := predicate(ctx, inst.Context)
		if err != nil {
			return nil, false, fmt.Errorf("evaluate condition of %s -> %s: %w", step.ID, t.Target, err)
		}
		if ok {
			return t, false, nil
		}
	}

	return nil, waiting, nil
}

// failInstance: внешний обработчик: переводит экземпляр в FAILED с текстом ошибки.
func (e *Executor) failInstance(ctx context.Context, inst *domain.WorkflowInstance, cause error, logger *slog.Logger) error {
	now := e.now()

	if err := inst.MarkFailed(cause.Error()); err != nil {
		logger.Error("cannot mark instance failed", "error", err, "cause", cause)
		return errors.Join(cause, err)
	}
	inst.AddHistory(now, "Workflow failed: "+cause.Error(), "")

	if err := e.save(ctx, inst); err != nil {
		logger.Error("cannot persist failed instance", "error", err, "cause", cause)
		return errors.Join(cause, err)
	}

	e.emit(ctx, Event{Type: EventWorkflowFailed, Instance: inst, StepID: inst.CurrentStepID, Err: cause})
	logger.Error("workflow failed", "step_id", inst.CurrentStepID, "error", cause)
	return cause
}

func (e *Executor) save(ctx context.Context, inst *domain.WorkflowInstance) error {
	if err := e.store.Save(ctx, inst); err != nil {
		return fmt.Errorf("%w: %w", errPersist, err)
	}
	return nil
}

func (e *Executor) emit(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}
	e.events.Emit(ctx, event)
}

// awaitedEvents возвращает имена сигналов, которых ждёт шаг.
func awaitedEvents(step *domain.StepDefinition) []string {
	var names []string
	for _, t := range step.Transitions {
		if t.IsEventGated() {
			names = append(names, t.Event)
		}
	}
	return names
}
