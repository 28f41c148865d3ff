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

// maxUpdateAttempts: сколько раз операция перечитывает экземпляр при конфликте версий.
const maxUpdateAttempts = 3

// HistoryRetryRequested: запись журнала, которую оставляет RetryFailedStep.
const HistoryRetryRequested = "Retry of failed step requested"

// RetryRequests возвращает, сколько раз для экземпляра вызывали RetryFailedStep.
func RetryRequests(inst *domain.WorkflowInstance) int {
	n := 0
	for _, h := range inst.History {
		if h.Message == HistoryRetryRequested {
			n++
		}
	}
	return n
}

// Service: операции жизненного цикла экземпляров.
//
// Операции, после которых экземпляр может продолжить выполнение
// (Start, Resume, RetryFailedStep), сразу вызывают Executor.Proceed.
// Результат цикла отражается в статусе возвращённого экземпляра.
type Service struct {
	store       repo.Store
	definitions DefinitionSource
	executor    *Executor
	events      EventSink
	now         func() time.Time
	logger      *slog.Logger
}

// ServiceConfig: конфигурация Service.
type ServiceConfig struct {
	Store       repo.Store
	Definitions DefinitionSource
	Executor    *Executor
	Events      EventSink
	Clock       func() time.Time
	Logger      *slog.Logger
}

// NewService создаёт Service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		store:       cfg.Store,
		definitions: cfg.Definitions,
		executor:    cfg.Executor,
		events:      cfg.Events,
		now:         cfg.Clock,
		logger:      cfg.Logger,
	}
	if s.events == nil {
		s.events = NopSink{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = telemetry.WithComponent(s.logger, "engine")
	return s
}

// StartRequest: параметры запуска экземпляра.
type StartRequest struct {
	DefinitionID string
	Version      string // пусто = последняя версия
	Context      map[string]any
	BusinessKey  string
}

// Start создаёт экземпляр последней (или указанной) версии определения,
// сохраняет его и выполняет первый цикл.
func (s *Service) Start(ctx context.Context, req StartRequest) (*domain.WorkflowInstance, error) {
	def, err := s.definitions.Get(req.DefinitionID, req.Version)
	if err != nil {
		return nil, err
	}

	if req.BusinessKey != "" {
		existing, err := s.store.FindByBusinessKey(ctx, def.ID, req.BusinessKey)
		switch {
		case err == nil:
			return nil, fmt.Errorf("%w: %s/%s already used by %s", ErrDuplicateBusinessKey, def.ID, req.BusinessKey, existing.ID)
		case !errors.Is(err, repo.ErrNotFound):
			return nil, fmt.Errorf("check business key: %w", err)
		}
	}

	wctx, err := domain.NewContext(req.Context)
	if err != nil {
		return nil, err
	}

	inst := domain.NewWorkflowInstance(def, wctx, req.BusinessKey, s.now())
	if err := s.store.Save(ctx, inst); err != nil {
		return nil, fmt.Errorf("save instance: %w", err)
	}

	s.logger.Info("workflow instance created",
		"instance_id", inst.ID,
		"definition_id", def.ID,
		"definition_version", def.Version,
		"business_key", req.BusinessKey,
	)

	return s.proceed(ctx, inst.ID)
}

// Pause переводит RUNNING экземпляр в PAUSED.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	inst, err := s.update(ctx, id, func(inst *domain.WorkflowInstance) error {
		if inst.Status != domain.StatusRunning {
			return fmt.Errorf("%w: cannot pause %s instance", ErrInvalidState, inst.Status)
		}
		if err := inst.TransitionTo(domain.StatusPaused); err != nil {
			return err
		}
		inst.AddHistory(s.now(), "Workflow paused", "")
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, Event{Type: EventWorkflowPaused, Instance: inst, StepID: inst.CurrentStepID})
	return inst, nil
}

// Resume переводит PAUSED экземпляр в RUNNING и выполняет цикл.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	inst, err := s.update(ctx, id, func(inst *domain.WorkflowInstance) error {
		if inst.Status != domain.StatusPaused {
			return fmt.Errorf("%w: cannot resume %s instance", ErrInvalidState, inst.Status)
		}
		if err := inst.TransitionTo(domain.StatusRunning); err != nil {
			return err
		}
		inst.AddHistory(s.now(), "Workflow resumed", "")
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, Event{Type: EventWorkflowResumed, Instance: inst, StepID: inst.CurrentStepID})
	return s.proceed(ctx, id)
}

// Cancel отменяет незавершённый экземпляр.
//
// FAILED экземпляр отменить нельзя: из FAILED разрешён только повтор.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	inst, err := s.update(ctx, id, func(inst *domain.WorkflowInstance) error {
		if !inst.Status.CanTransitionTo(domain.StatusCancelled) {
			return fmt.Errorf("%w: cannot cancel %s instance", ErrInvalidState, inst.Status)
		}
		if err := inst.TransitionTo(domain.StatusCancelled); err != nil {
			return err
		}
		inst.ScheduledAt = nil
		inst.WaitingForSignal = false
		inst.AddHistory(s.now(), "Workflow cancelled", "")
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, Event{Type: EventWorkflowCancelled, Instance: inst, StepID: inst.CurrentStepID})
	s.logger.Info("workflow cancelled", "instance_id", id)
	return inst, nil
}

// RetryFailedStep возвращает FAILED экземпляр в PENDING со сброшенными
// попытками и ошибкой и выполняет цикл с текущего шага.
func (s *Service) RetryFailedStep(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	inst, err := s.update(ctx, id, func(inst *domain.WorkflowInstance) error {
		if inst.Status != domain.StatusFailed {
			return fmt.Errorf("%w: cannot retry %s instance", ErrInvalidState, inst.Status)
		}
		if err := inst.ResetForRetry(); err != nil {
			return err
		}
		inst.AddHistory(s.now(), HistoryRetryRequested, "")
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, Event{Type: EventWorkflowRetryRequested, Instance: inst, StepID: inst.CurrentStepID})
	s.logger.Info("retrying failed instance", "instance_id", id, "step_id", inst.CurrentStepID)
	return s.proceed(ctx, id)
}

// Signal доставляет сигнал экземпляру.
//
// Сигнал ставится в очередь и сохраняется; цикл не выполняется.
// Payload должен сериализоваться в JSON, иначе сигнал отклоняется.
// RUNNING экземпляр, ожидающий сигнала, становится готовым к обработке.
func (s *Service) Signal(ctx context.Context, id uuid.UUID, name string, payload map[string]any) (*domain.WorkflowInstance, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidSignal)
	}
	if _, err := domain.NewContext(payload); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %w", ErrInvalidSignal, name, err)
	}

	inst, err := s.update(ctx, id, func(inst *domain.WorkflowInstance) error {
		if inst.IsFinished() {
			return fmt.Errorf("%w: cannot signal %s instance", ErrInvalidState, inst.Status)
		}
		now := s.now()
		inst.AddSignal(name, payload, now)
		if inst.Status == domain.StatusRunning && inst.WaitingForSignal {
			inst.ScheduledAt = &now
		}
		inst.AddHistory(now, "Signal received: "+name, "")
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, Event{Type: EventSignalReceived, Instance: inst, StepID: inst.CurrentStepID, Signal: name})
	return inst, nil
}

// GetInstance возвращает экземпляр по ID.
func (s *Service) GetInstance(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	inst, err := s.store.Find(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return inst, err
}

// FindByBusinessKey возвращает экземпляр определения по бизнес-ключу.
func (s *Service) FindByBusinessKey(ctx context.Context, definitionID, businessKey string) (*domain.WorkflowInstance, error) {
	inst, err := s.store.FindByBusinessKey(ctx, definitionID, businessKey)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrInstanceNotFound, definitionID, businessKey)
	}
	return inst, err
}

// FindInstancesByStatus возвращает экземпляры в статусе.
func (s *Service) FindInstancesByStatus(ctx context.Context, q repo.StatusQuery) ([]*domain.WorkflowInstance, error) {
	return s.store.FindInstancesByStatus(ctx, q)
}

// FindFailed возвращает FAILED экземпляры для восстановления.
func (s *Service) FindFailed(ctx context.Context, q repo.FailedQuery) ([]*domain.WorkflowInstance, error) {
	return s.store.FindFailed(ctx, q)
}

// update читает экземпляр, применяет mutate и сохраняет.
// При конфликте версий операция повторяется на свежем состоянии.
func (s *Service) update(ctx context.Context, id uuid.UUID, mutate func(*domain.WorkflowInstance) error) (*domain.WorkflowInstance, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		inst, err := s.GetInstance(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(inst); err != nil {
			return nil, err
		}

		err = s.store.Save(ctx, inst)
		if err == nil {
			return inst, nil
		}
		if !errors.Is(err, repo.ErrConflict) {
			return nil, fmt.Errorf("save instance: %w", err)
		}
		lastErr = err
		s.logger.Debug("conflict while updating instance, retrying", "instance_id", id, "attempt", attempt+1)
	}
	return nil, lastErr
}

// proceed выполняет цикл и возвращает актуальное состояние экземпляра.
func (s *Service) proceed(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	if s.executor != nil {
		outcome, err := s.executor.Proceed(ctx, id)
		switch {
		case err == nil:
			s.logger.Debug("instance proceeded", "instance_id", id, "outcome", outcome)
		case errors.Is(err, repo.ErrConflict):
			// Экземпляр подхватил другой воркер
			s.logger.Debug("instance proceeded concurrently", "instance_id", id)
		case ctx.Err() != nil:
			return nil, err
		default:
			s.logger.Warn("instance cycle failed", "instance_id", id, "outcome", outcome, "error", err)
		}
	}
	return s.GetInstance(ctx, id)
}

func (s *Service) emit(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	s.events.Emit(ctx, event)
}
