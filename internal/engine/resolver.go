package engine

import (
	"fmt"

	"github.com/shaiso/Flowy/internal/domain"
)

// ActionResolver разрешает ссылку на действие в исполняемую функцию.
type ActionResolver interface {
	ResolveAction(def domain.ActionDefinition) (domain.ActionFunc, error)
}

// ConditionResolver разрешает условие перехода в предикат.
// nil без ошибки означает безусловный переход.
type ConditionResolver interface {
	ResolveCondition(def domain.TransitionDefinition) (domain.ConditionFunc, error)
}

// DefinitionSource возвращает определение по ID и версии.
// Реализуется registry.Registry.
type DefinitionSource interface {
	Get(id, version string) (*domain.WorkflowDefinition, error)
}

// DirectResolver разрешает только встроенные в определение функции
// (ActionDefinition.Func, TransitionDefinition.Predicate).
// Используется, когда реестр действий не настроен.
type DirectResolver struct{}

// ResolveAction возвращает ActionDefinition.Func.
func (DirectResolver) ResolveAction(def domain.ActionDefinition) (domain.ActionFunc, error) {
	if def.Func == nil {
		return nil, fmt.Errorf("no action registry configured for %q", def.Service)
	}
	return def.Func, nil
}

// ResolveCondition возвращает TransitionDefinition.Predicate.
func (DirectResolver) ResolveCondition(def domain.TransitionDefinition) (domain.ConditionFunc, error) {
	if def.Predicate != nil || def.Condition == "" {
		return def.Predicate, nil
	}
	return nil, fmt.Errorf("no condition registry configured for %q", def.Condition)
}
