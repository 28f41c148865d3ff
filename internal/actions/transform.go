package actions

import (
	"context"
	"fmt"
	"sort"

	"github.com/shaiso/Flowy/internal/domain"
	"github.com/shaiso/Flowy/internal/expr"
)

const (
	// ActionTransform: имя встроенного действия трансформации.
	ActionTransform = "transform"

	paramMappings = "mappings"
	paramRemove   = "remove"
)

// TransformAction записывает вычисленные значения в контекст.
//
// Параметры:
//
//	{
//	    "mappings": {
//	        "total": "{{ len .items }}",
//	        "email": "{{ .customer.email | lower }}",
//	        "approved": true
//	    },
//	    "remove": ["draft"]
//	}
//
// Шаблоны к этому моменту уже отрендерены реестром. Строковые результаты
// приводятся к JSON-типам ("10" → 10, "true" → true).
type TransformAction struct{}

// NewTransformAction создаёт TransformAction.
func NewTransformAction() *TransformAction {
	return &TransformAction{}
}

// Name возвращает имя действия.
func (a *TransformAction) Name() string {
	return ActionTransform
}

// Execute применяет mappings к контексту.
func (a *TransformAction) Execute(ctx context.Context, wctx *domain.Context, params map[string]any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrActionCancelled, ctx.Err())
	default:
	}

	mappings := GetMap(params, paramMappings)

	// Порядок ключей фиксирован, чтобы ошибка была воспроизводимой
	keys := make([]string, 0, len(mappings))
	for key := range mappings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := mappings[key]
		if s, ok := value.(string); ok {
			value = expr.ParseValue(s)
		}
		if err := wctx.Set(key, value); err != nil {
			return fmt.Errorf("transform %s: %w", key, err)
		}
	}

	if remove, ok := params[paramRemove].([]any); ok {
		for _, item := range remove {
			if key, ok := item.(string); ok {
				wctx.Delete(key)
			}
		}
	}

	return nil
}
