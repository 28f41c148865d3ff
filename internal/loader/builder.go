package loader

import "github.com/shaiso/Flowy/internal/domain"

// Builder: fluent API для описания workflow в коде:
//
//	def, err := loader.NewBuilder("onboarding", "1.0.0").
//	    Step("create_account").Action("create_account", nil).Then("welcome").
//	    Step("welcome").Do(sendWelcome, nil).OnEvent("done", "activated").
//	    Step("done").
//	    Build()
//
// Если Initial не вызван, начальным становится первый шаг.
// Ошибки валидации возвращает Build как *LoadError.
type Builder struct {
	id          string
	version     string
	name        string
	description string
	initial     string
	schema      map[string]any
	steps       []domain.StepDefinition
}

// NewBuilder начинает описание определения.
func NewBuilder(id, version string) *Builder {
	return &Builder{id: id, version: version}
}

// Name задаёт имя определения.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// Description задаёт описание определения.
func (b *Builder) Description(description string) *Builder {
	b.description = description
	return b
}

// Initial задаёт начальный шаг.
func (b *Builder) Initial(stepID string) *Builder {
	b.initial = stepID
	return b
}

// ContextSchema задаёт схему начального контекста.
func (b *Builder) ContextSchema(schema map[string]any) *Builder {
	b.schema = schema
	return b
}

// Step добавляет шаг и возвращает его builder.
func (b *Builder) Step(id string) *StepBuilder {
	b.steps = append(b.steps, domain.StepDefinition{ID: id})
	return &StepBuilder{parent: b, index: len(b.steps) - 1}
}

// Build валидирует и возвращает определение.
func (b *Builder) Build() (*domain.WorkflowDefinition, error) {
	initial := b.initial
	if initial == "" && len(b.steps) > 0 {
		initial = b.steps[0].ID
	}

	def, err := domain.NewWorkflowDefinition(b.id, b.version, initial, b.steps,
		domain.WithName(b.name),
		domain.WithDescription(b.description),
		domain.WithInitialContextSchema(b.schema),
	)
	if err != nil {
		return nil, wrapDefinitionError("builder", err)
	}
	return def, nil
}

// MustBuild как Build, но паникует при ошибке. Для определений в коде.
func (b *Builder) MustBuild() *domain.WorkflowDefinition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}

// StepBuilder настраивает один шаг.
type StepBuilder struct {
	parent *Builder
	index  int
}

func (s *StepBuilder) step() *domain.StepDefinition {
	return &s.parent.steps[s.index]
}

// Name задаёт имя шага.
func (s *StepBuilder) Name(name string) *StepBuilder {
	s.step().Name = name
	return s
}

// Describe задаёт описание шага.
func (s *StepBuilder) Describe(description string) *StepBuilder {
	s.step().Description = description
	return s
}

// Action добавляет действие по имени из реестра действий.
func (s *StepBuilder) Action(service string, params map[string]any) *StepBuilder {
	s.step().Actions = append(s.step().Actions, domain.ActionDefinition{
		Service:    service,
		Parameters: params,
	})
	return s
}

// Do добавляет действие-функцию.
func (s *StepBuilder) Do(fn domain.ActionFunc, params map[string]any) *StepBuilder {
	s.step().Actions = append(s.step().Actions, domain.ActionDefinition{
		Func:       fn,
		Parameters: params,
	})
	return s
}

// Then добавляет безусловный переход.
func (s *StepBuilder) Then(target string) *StepBuilder {
	return s.transition(domain.TransitionDefinition{Target: target})
}

// When добавляет переход по именованному условию или шаблону.
func (s *StepBuilder) When(target, condition string) *StepBuilder {
	return s.transition(domain.TransitionDefinition{Target: target, Condition: condition})
}

// WhenFunc добавляет переход по предикату.
func (s *StepBuilder) WhenFunc(target string, pred domain.ConditionFunc) *StepBuilder {
	return s.transition(domain.TransitionDefinition{Target: target, Predicate: pred})
}

// OnEvent добавляет переход, ожидающий сигнала event.
func (s *StepBuilder) OnEvent(target, event string) *StepBuilder {
	return s.transition(domain.TransitionDefinition{Target: target, Event: event})
}

// Retry задаёт политику повторов шага.
func (s *StepBuilder) Retry(policy domain.RetryPolicy) *StepBuilder {
	s.step().RetryPolicy = &policy
	return s
}

// Timeout задаёт ISO-8601 таймаут шага.
func (s *StepBuilder) Timeout(duration string) *StepBuilder {
	s.step().Timeout = duration
	return s
}

// Step завершает текущий шаг и начинает следующий.
func (s *StepBuilder) Step(id string) *StepBuilder {
	return s.parent.Step(id)
}

// Build завершает описание и строит определение.
func (s *StepBuilder) Build() (*domain.WorkflowDefinition, error) {
	return s.parent.Build()
}

// MustBuild завершает описание и строит определение, паникуя при ошибке.
func (s *StepBuilder) MustBuild() *domain.WorkflowDefinition {
	return s.parent.MustBuild()
}

func (s *StepBuilder) transition(t domain.TransitionDefinition) *StepBuilder {
	s.step().Transitions = append(s.step().Transitions, t)
	return s
}
