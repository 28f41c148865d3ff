package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StepTypeAction: единственный поддерживаемый тип шага.
const StepTypeAction = "action"

// ActionFunc: исполняемое действие шага.
//
// Получает контекст экземпляра (для чтения и записи) и параметры из определения.
// Возвращённая ошибка считается сбоем действия и обрабатывается RetryPolicy шага.
type ActionFunc func(ctx context.Context, wctx *Context, params map[string]any) error

// ConditionFunc: предикат перехода над контекстом экземпляра.
type ConditionFunc func(ctx context.Context, wctx *Context) (bool, error)

// WorkflowDefinition: версионированное описание workflow.
//
// Определение создаётся через NewWorkflowDefinition и после этого
// не изменяется: его разделяют все экземпляры этой версии.
type WorkflowDefinition struct {
	// ID: идентификатор workflow (например, "order-processing").
	ID string `json:"id"`

	// Version: версия определения, сравнивается как semver ("1.0.0").
	Version string `json:"version"`

	// Name: человекочитаемое имя.
	Name string `json:"name,omitempty"`

	// Description: описание назначения workflow.
	Description string `json:"description,omitempty"`

	// InitialStepID: шаг, с которого начинается выполнение.
	InitialStepID string `json:"initial_step_id"`

	// Steps: шаги по ID.
	Steps map[string]*StepDefinition `json:"steps"`

	// StepOrder: ID шагов в порядке объявления.
	StepOrder []string `json:"step_order"`

	// InitialContextSchema: необязательное описание ожидаемого контекста.
	InitialContextSchema map[string]any `json:"initial_context_schema,omitempty"`
}

// StepDefinition: шаг workflow: последовательность действий и исходящие переходы.
type StepDefinition struct {
	// ID: уникальный в рамках определения идентификатор шага.
	ID string `json:"id"`

	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`

	// IsInitial: true только для шага InitialStepID.
	IsInitial bool `json:"is_initial"`

	// Type: тип шага, сейчас только "action".
	Type string `json:"type"`

	// Actions: действия, выполняются по порядку.
	Actions []ActionDefinition `json:"actions,omitempty"`

	// Transitions: переходы, проверяются по порядку, срабатывает первый подходящий.
	// Шаг без переходов завершает workflow.
	Transitions []TransitionDefinition `json:"transitions,omitempty"`

	// RetryPolicy: политика повторов при сбое действия (nil = без повторов).
	RetryPolicy *RetryPolicy `json:"retry_policy,omitempty"`

	// Timeout: ISO-8601 длительность ("PT5M"), пустая строка = без таймаута.
	Timeout string `json:"timeout,omitempty"`

	timeout time.Duration
}

// TimeoutDuration возвращает разобранный таймаут шага (0 = без таймаута).
func (s *StepDefinition) TimeoutDuration() time.Duration {
	return s.timeout
}

// IsTerminal возвращает true, если у шага нет исходящих переходов.
func (s *StepDefinition) IsTerminal() bool {
	return len(s.Transitions) == 0
}

// HasEventTransitions возвращает true, если хотя бы один переход ждёт сигнала.
func (s *StepDefinition) HasEventTransitions() bool {
	for _, t := range s.Transitions {
		if t.IsEventGated() {
			return true
		}
	}
	return false
}

// ActionDefinition: ссылка на действие шага.
//
// Действие задаётся либо именем (Service), которое разрешается через
// реестр действий, либо напрямую функцией (Func).
type ActionDefinition struct {
	Service     string         `json:"service,omitempty"`
	Func        ActionFunc     `json:"-"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Description string         `json:"description,omitempty"`
}

// Identifier возвращает имя действия для логов и событий.
func (a ActionDefinition) Identifier() string {
	if a.Service != "" {
		return a.Service
	}
	if a.Func != nil {
		return "func"
	}
	return ""
}

// TransitionDefinition: переход в другой шаг.
//
// Если Event задан, переход ждёт сигнала с этим именем, а Condition
// и Predicate игнорируются. Без условия переход безусловный.
type TransitionDefinition struct {
	Target    string        `json:"target"`
	Condition string        `json:"condition,omitempty"`
	Predicate ConditionFunc `json:"-"`
	Event     string        `json:"event,omitempty"`
}

// IsEventGated возвращает true для переходов по сигналу.
func (t TransitionDefinition) IsEventGated() bool {
	return t.Event != ""
}

// IsUnconditional возвращает true, если переход срабатывает всегда.
func (t TransitionDefinition) IsUnconditional() bool {
	return t.Event == "" && t.Condition == "" && t.Predicate == nil
}

// DefinitionOption: необязательные атрибуты определения.
type DefinitionOption func(*WorkflowDefinition)

// WithName задаёт имя определения.
func WithName(name string) DefinitionOption {
	return func(d *WorkflowDefinition) { d.Name = name }
}

// WithDescription задаёт описание определения.
func WithDescription(description string) DefinitionOption {
	return func(d *WorkflowDefinition) { d.Description = description }
}

// WithInitialContextSchema задаёт схему начального контекста.
func WithInitialContextSchema(schema map[string]any) DefinitionOption {
	return func(d *WorkflowDefinition) { d.InitialContextSchema = schema }
}

// NewWorkflowDefinition собирает и валидирует определение.
//
// Проверки:
//   - id и version не пустые, есть хотя бы один шаг
//   - ID шагов не пустые и уникальные
//   - initialStepID ссылается на существующий шаг
//   - у каждого действия задан Service или Func
//   - цели переходов существуют
//   - таймауты разбираются как ISO-8601, RetryPolicy валидны
//
// Шаги копируются: изменения переданного слайса не влияют на определение.
func NewWorkflowDefinition(id, version, initialStepID string, steps []StepDefinition, opts ...DefinitionOption) (*WorkflowDefinition, error) {
	if strings.TrimSpace(id) == "" {
		return nil, newDefinitionError(id, "", "id is required", nil)
	}
	if strings.TrimSpace(version) == "" {
		return nil, newDefinitionError(id, "", "version is required", nil)
	}
	if len(steps) == 0 {
		return nil, newDefinitionError(id, "", "at least one step is required", nil)
	}

	def := &WorkflowDefinition{
		ID:            id,
		Version:       version,
		InitialStepID: initialStepID,
		Steps:         make(map[string]*StepDefinition, len(steps)),
		StepOrder:     make([]string, 0, len(steps)),
	}
	for _, opt := range opts {
		opt(def)
	}

	for i := range steps {
		step := steps[i]
		if strings.TrimSpace(step.ID) == "" {
			return nil, newDefinitionError(id, "", fmt.Sprintf("step #%d has empty id", i+1), nil)
		}
		if _, dup := def.Steps[step.ID]; dup {
			return nil, newDefinitionError(id, step.ID, "duplicate step id", nil)
		}

		if err := prepareStep(id, &step); err != nil {
			return nil, err
		}

		def.Steps[step.ID] = &step
		def.StepOrder = append(def.StepOrder, step.ID)
	}

	if strings.TrimSpace(initialStepID) == "" {
		return nil, newDefinitionError(id, "", "initial step id is required", nil)
	}
	initial, ok := def.Steps[initialStepID]
	if !ok {
		return nil, newDefinitionError(id, "", fmt.Sprintf("initial step %q not found", initialStepID), nil)
	}

	for _, stepID := range def.StepOrder {
		step := def.Steps[stepID]
		if step.IsInitial && step != initial {
			return nil, newDefinitionError(id, stepID, "only the initial step may be marked initial", nil)
		}
		for _, t := range step.Transitions {
			if _, ok := def.Steps[t.Target]; !ok {
				return nil, newDefinitionError(id, stepID, fmt.Sprintf("transition target %q not found", t.Target), nil)
			}
		}
	}
	initial.IsInitial = true

	return def, nil
}

// prepareStep копирует вложенные слайсы шага и проверяет его поля.
func prepareStep(defID string, step *StepDefinition) error {
	if step.Type == "" {
		step.Type = StepTypeAction
	}
	if step.Type != StepTypeAction {
		return newDefinitionError(defID, step.ID, fmt.Sprintf("unsupported step type %q", step.Type), nil)
	}

	step.Actions = append([]ActionDefinition(nil), step.Actions...)
	for i, a := range step.Actions {
		if a.Service == "" && a.Func == nil {
			return newDefinitionError(defID, step.ID, fmt.Sprintf("action #%d has neither service nor callable", i+1), nil)
		}
	}

	step.Transitions = append([]TransitionDefinition(nil), step.Transitions...)
	for i, t := range step.Transitions {
		if strings.TrimSpace(t.Target) == "" {
			return newDefinitionError(defID, step.ID, fmt.Sprintf("transition #%d has no target", i+1), nil)
		}
	}

	if step.RetryPolicy != nil {
		policy := *step.RetryPolicy
		if err := policy.Validate(); err != nil {
			return newDefinitionError(defID, step.ID, err.Error(), err)
		}
		step.RetryPolicy = &policy
	}

	if step.Timeout != "" {
		d, err := ParseISODuration(step.Timeout)
		if err != nil {
			return newDefinitionError(defID, step.ID, err.Error(), err)
		}
		step.timeout = d
	}

	return nil
}

// Step возвращает шаг по ID.
func (d *WorkflowDefinition) Step(id string) (*StepDefinition, bool) {
	s, ok := d.Steps[id]
	return s, ok
}

// InitialStep возвращает начальный шаг.
func (d *WorkflowDefinition) InitialStep() *StepDefinition {
	return d.Steps[d.InitialStepID]
}

// OrderedSteps возвращает шаги в порядке объявления.
func (d *WorkflowDefinition) OrderedSteps() []*StepDefinition {
	out := make([]*StepDefinition, 0, len(d.StepOrder))
	for _, id := range d.StepOrder {
		out = append(out, d.Steps[id])
	}
	return out
}

// Key возвращает "id@version" для логов и сообщений.
func (d *WorkflowDefinition) Key() string {
	return d.ID + "@" + d.Version
}
