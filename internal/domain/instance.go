package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkflowInstance: один запуск определения workflow.
//
// Экземпляр навсегда привязан к версии определения, с которой стартовал.
// Его состояние сохраняется после каждой единицы работы, поэтому
// выполнение продолжается после падения процесса или на другом воркере.
type WorkflowInstance struct {
	// ID: уникальный идентификатор экземпляра.
	ID uuid.UUID `json:"id"`

	// DefinitionID и DefinitionVersion: определение, которое выполняется.
	DefinitionID      string `json:"definition_id"`
	DefinitionVersion string `json:"definition_version"`

	// Status: текущий статус.
	Status WorkflowStatus `json:"status"`

	// Context: данные экземпляра.
	Context *Context `json:"context"`

	// CreatedAt: время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt: время последнего сохранения.
	UpdatedAt time.Time `json:"updated_at"`

	// BusinessKey: внешний ключ для корреляции (например, номер заказа).
	BusinessKey string `json:"business_key,omitempty"`

	// CurrentStepID: текущий шаг. Пусто до первого Proceed.
	CurrentStepID string `json:"current_step_id,omitempty"`

	// History: журнал событий экземпляра, только добавление.
	History []HistoryEntry `json:"history"`

	// ErrorDetails: текст последней ошибки. Сбрасывается при retry.
	ErrorDetails string `json:"error_details,omitempty"`

	// RetryAttempts: число неудачных попыток. Общее для всех шагов экземпляра.
	RetryAttempts int `json:"retry_attempts"`

	// Version: счётчик оптимистической блокировки.
	// 0: экземпляр ещё не сохранён. Увеличивается хранилищем при каждом Save.
	Version int `json:"version"`

	// StepStartedAt: время входа в текущий шаг, для проверки таймаута.
	StepStartedAt *time.Time `json:"step_started_at,omitempty"`

	// ScheduledAt: не раньше этого времени экземпляр нужно обработать снова.
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`

	// Signals: очередь полученных сигналов.
	Signals []Signal `json:"signals"`

	// WaitingForSignal: действия текущего шага выполнены,
	// экземпляр ждёт сигнала для перехода.
	WaitingForSignal bool `json:"waiting_for_signal,omitempty"`
}

// HistoryEntry: запись журнала экземпляра.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	StepID    string    `json:"step_id,omitempty"`
}

// Signal: внешнее событие, доставленное экземпляру.
type Signal struct {
	Name       string         `json:"name"`
	Payload    map[string]any `json:"payload,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// NewWorkflowInstance создаёт экземпляр в статусе PENDING.
func NewWorkflowInstance(def *WorkflowDefinition, wctx *Context, businessKey string, now time.Time) *WorkflowInstance {
	if wctx == nil {
		wctx = EmptyContext()
	}
	inst := &WorkflowInstance{
		ID:                uuid.New(),
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		Status:            StatusPending,
		Context:           wctx,
		CreatedAt:         now,
		UpdatedAt:         now,
		BusinessKey:       businessKey,
		History:           []HistoryEntry{},
		Signals:           []Signal{},
	}
	inst.AddHistory(now, "Workflow instance created", "")
	return inst
}

// IsFinished возвращает true для терминальных статусов.
func (w *WorkflowInstance) IsFinished() bool {
	return w.Status.IsTerminal()
}

// TransitionTo меняет статус, если переход разрешён.
func (w *WorkflowInstance) TransitionTo(next WorkflowStatus) error {
	if !w.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, w.Status, next)
	}
	w.Status = next
	return nil
}

// AddHistory добавляет запись в журнал.
// Пустой stepID заменяется текущим шагом.
func (w *WorkflowInstance) AddHistory(now time.Time, message, stepID string) {
	if stepID == "" {
		stepID = w.CurrentStepID
	}
	w.History = append(w.History, HistoryEntry{
		Timestamp: now,
		Message:   message,
		StepID:    stepID,
	})
}

// Start переводит PENDING → RUNNING и фиксирует текущий шаг.
func (w *WorkflowInstance) Start(stepID string, now time.Time) error {
	if err := w.TransitionTo(StatusRunning); err != nil {
		return err
	}
	if w.CurrentStepID != stepID {
		w.EnterStep(stepID, now)
	}
	return nil
}

// EnterStep делает stepID текущим шагом и запускает отсчёт таймаута.
func (w *WorkflowInstance) EnterStep(stepID string, now time.Time) {
	w.CurrentStepID = stepID
	w.StepStartedAt = &now
	w.WaitingForSignal = false
}

// StampStepStart запоминает время входа в шаг, если оно ещё не задано.
func (w *WorkflowInstance) StampStepStart(now time.Time) {
	if w.StepStartedAt == nil {
		w.StepStartedAt = &now
	}
}

// StepTimedOut возвращает true, если шаг с таймаутом timeout просрочен.
func (w *WorkflowInstance) StepTimedOut(timeout time.Duration, now time.Time) bool {
	if timeout <= 0 || w.StepStartedAt == nil {
		return false
	}
	return now.After(w.StepStartedAt.Add(timeout))
}

// ScheduleRetry возвращает экземпляр в PENDING до момента at.
//
// Это единственный путь RUNNING → PENDING: повтор шага после сбоя
// действия по RetryPolicy.
func (w *WorkflowInstance) ScheduleRetry(at time.Time, errMsg string) error {
	if w.Status != StatusRunning && w.Status != StatusPending {
		return fmt.Errorf("%w: cannot schedule retry from %s", ErrInvalidTransition, w.Status)
	}
	w.Status = StatusPending
	w.ScheduledAt = &at
	w.ErrorDetails = errMsg
	return nil
}

// MarkFailed переводит экземпляр в FAILED с ошибкой.
func (w *WorkflowInstance) MarkFailed(errMsg string) error {
	if err := w.TransitionTo(StatusFailed); err != nil {
		return err
	}
	w.ErrorDetails = errMsg
	w.ScheduledAt = nil
	return nil
}

// MarkCompleted переводит экземпляр в COMPLETED.
func (w *WorkflowInstance) MarkCompleted() error {
	if err := w.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	w.ScheduledAt = nil
	w.WaitingForSignal = false
	return nil
}

// ResetForRetry готовит FAILED экземпляр к повторному запуску.
func (w *WorkflowInstance) ResetForRetry() error {
	if err := w.TransitionTo(StatusPending); err != nil {
		return err
	}
	w.RetryAttempts = 0
	w.ErrorDetails = ""
	w.ScheduledAt = nil
	// Таймаут шага отсчитывается заново.
	w.StepStartedAt = nil
	return nil
}

// AddSignal ставит сигнал в очередь.
func (w *WorkflowInstance) AddSignal(name string, payload map[string]any, now time.Time) {
	w.Signals = append(w.Signals, Signal{
		Name:       name,
		Payload:    payload,
		ReceivedAt: now,
	})
}

// ConsumeSignal удаляет из очереди первый сигнал с именем name и возвращает его.
func (w *WorkflowInstance) ConsumeSignal(name string) (Signal, bool) {
	for i, s := range w.Signals {
		if s.Name == name {
			w.Signals = append(w.Signals[:i:i], w.Signals[i+1:]...)
			return s, true
		}
	}
	return Signal{}, false
}

// HasSignal возвращает true, если в очереди есть сигнал name.
func (w *WorkflowInstance) HasSignal(name string) bool {
	for _, s := range w.Signals {
		if s.Name == name {
			return true
		}
	}
	return false
}

// IsDue возвращает true, если экземпляр пора обработать.
//
// PENDING: если ScheduledAt не задан или уже наступил.
// RUNNING: только если ScheduledAt задан и наступил (отложенная обработка).
func (w *WorkflowInstance) IsDue(now time.Time) bool {
	switch w.Status {
	case StatusPending:
		return w.ScheduledAt == nil || !w.ScheduledAt.After(now)
	case StatusRunning:
		return w.ScheduledAt != nil && !w.ScheduledAt.After(now)
	default:
		return false
	}
}

// Clone возвращает глубокую копию экземпляра.
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	c := *w
	c.Context = w.Context.Clone()
	c.History = append([]HistoryEntry{}, w.History...)
	c.Signals = make([]Signal, len(w.Signals))
	for i, s := range w.Signals {
		c.Signals[i] = Signal{Name: s.Name, ReceivedAt: s.ReceivedAt, Payload: clonePayload(s.Payload)}
	}
	if w.StepStartedAt != nil {
		t := *w.StepStartedAt
		c.StepStartedAt = &t
	}
	if w.ScheduledAt != nil {
		t := *w.ScheduledAt
		c.ScheduledAt = &t
	}
	return &c
}

func clonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	if data, err := json.Marshal(p); err == nil {
		var out map[string]any
		if err := json.Unmarshal(data, &out); err == nil {
			return out
		}
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
