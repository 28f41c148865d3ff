package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Flowy/internal/domain"
	"github.com/shaiso/Flowy/internal/expr"
)

// Registry: реестр действий и именованных условий.
//
// Реализует разрешение ссылок из определения:
//   - ActionDefinition.Func используется напрямую, иначе ищется действие Service;
//   - TransitionDefinition.Predicate используется напрямую, иначе Condition
//     ищется среди именованных условий или вычисляется как шаблон.
//
// Потокобезопасен.
type Registry struct {
	mu         sync.RWMutex
	actions    map[string]Action
	conditions map[string]domain.ConditionFunc
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		actions:    make(map[string]Action),
		conditions: make(map[string]domain.ConditionFunc),
	}
}

// DefaultRegistry создаёт реестр со встроенными действиями.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewHTTPAction())
	r.Register(NewTransformAction())
	r.Register(NewDelayAction())
	return r
}

// Register регистрирует действие.
// Действие с тем же именем перезаписывается.
func (r *Registry) Register(action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[action.Name()] = action
}

// RegisterFunc регистрирует функцию как действие name.
func (r *Registry) RegisterFunc(name string, fn domain.ActionFunc) {
	r.Register(Func(name, fn))
}

// RegisterCondition регистрирует именованное условие.
func (r *Registry) RegisterCondition(name string, fn domain.ConditionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conditions[name] = fn
}

// Get возвращает действие по имени.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, exists := r.actions[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, name)
	}
	return action, nil
}

// Has проверяет, зарегистрировано ли действие.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.actions[name]
	return exists
}

// Names возвращает имена зарегистрированных действий по алфавиту.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count возвращает количество зарегистрированных действий.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// ResolveAction возвращает исполняемую функцию для ссылки на действие.
//
// Параметры именованного действия рендерятся по контексту экземпляра
// перед каждым вызовом.
func (r *Registry) ResolveAction(def domain.ActionDefinition) (domain.ActionFunc, error) {
	if def.Func != nil {
		return def.Func, nil
	}
	if def.Service == "" {
		return nil, fmt.Errorf("%w: empty action reference", ErrActionNotFound)
	}

	action, err := r.Get(def.Service)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, wctx *domain.Context, params map[string]any) error {
		rendered, err := expr.RenderMap(params, wctx.ToMap())
		if err != nil {
			return fmt.Errorf("render %s parameters: %w", action.Name(), err)
		}
		return action.Execute(ctx, wctx, rendered)
	}, nil
}

// ResolveCondition возвращает предикат перехода.
//
// nil без ошибки означает, что переход безусловный.
func (r *Registry) ResolveCondition(def domain.TransitionDefinition) (domain.ConditionFunc, error) {
	if def.Predicate != nil {
		return def.Predicate, nil
	}
	if def.Condition == "" {
		return nil, nil
	}

	r.mu.RLock()
	named, exists := r.conditions[def.Condition]
	r.mu.RUnlock()
	if exists {
		return named, nil
	}

	if !expr.IsTemplate(def.Condition) {
		return nil, fmt.Errorf("%w: %s", ErrConditionNotFound, def.Condition)
	}

	condition := def.Condition
	return func(_ context.Context, wctx *domain.Context) (bool, error) {
		return expr.Evaluate(condition, wctx.ToMap())
	}, nil
}
