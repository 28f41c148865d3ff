// Package actions: реестр действий и условий переходов.
//
// Определение workflow ссылается на действия по имени ("service: http").
// Registry разрешает такие ссылки в domain.ActionFunc, а строковые условия
// переходов: в domain.ConditionFunc.
package actions

import (
	"context"
	"errors"

	"github.com/shaiso/Flowy/internal/domain"
)

// Ошибки действий.
var (
	// ErrActionNotFound: действие не зарегистрировано.
	ErrActionNotFound = errors.New("action not found")

	// ErrConditionNotFound: именованное условие не зарегистрировано.
	ErrConditionNotFound = errors.New("condition not found")

	// ErrInvalidConfig: невалидные параметры действия.
	ErrInvalidConfig = errors.New("invalid action config")

	// ErrActionCancelled: выполнение действия отменено.
	ErrActionCancelled = errors.New("action execution cancelled")
)

// Action: именованное действие шага.
//
// Параметры приходят уже отрендеренными по контексту экземпляра.
// Результат действие пишет в контекст.
type Action interface {
	// Name возвращает имя, под которым действие регистрируется.
	Name() string

	// Execute выполняет действие.
	// Действие должно проверять ctx.Done() для graceful shutdown.
	Execute(ctx context.Context, wctx *domain.Context, params map[string]any) error
}

// funcAction адаптирует domain.ActionFunc к интерфейсу Action.
type funcAction struct {
	name string
	fn   domain.ActionFunc
}

func (a funcAction) Name() string { return a.name }

func (a funcAction) Execute(ctx context.Context, wctx *domain.Context, params map[string]any) error {
	return a.fn(ctx, wctx, params)
}

// Func оборачивает функцию в Action с именем name.
func Func(name string, fn domain.ActionFunc) Action {
	return funcAction{name: name, fn: fn}
}
