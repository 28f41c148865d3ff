// Package expr рендерит Go templates над данными контекста workflow.
//
// Используется в двух местах:
//   - параметры встроенных действий ("url": "https://api/{{ .order_id }}")
//   - условия переходов ("{{ gt .amount 100 }}")
//
// Данные шаблона: содержимое domain.Context: {{ .key }}.
package expr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

var (
	// ErrTemplateParse: ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")

	// ErrTemplateRender: ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")
)

// templateFuncs: дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json: сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// fromJSON: парсит JSON строку
	"fromJSON": func(s string) any {
		var result any
		if err := json.Unmarshal([]byte(s), &result); err != nil {
			return nil
		}
		return result
	},

	// default: значение по умолчанию, если второй аргумент пустой
	"default": func(def, val any) any {
		if isEmpty(val) {
			return def
		}
		return val
	},

	// coalesce: первое непустое значение
	"coalesce": func(values ...any) any {
		for _, v := range values {
			if !isEmpty(v) {
				return v
			}
		}
		return nil
	},

	// num: приводит значение к float64 для сравнений gt/lt над JSON-числами
	"num": toFloat,

	"join":      func(sep string, items []string) string { return strings.Join(items, sep) },
	"split":     func(sep, s string) []string { return strings.Split(s, sep) },
	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"hasSuffix": strings.HasSuffix,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"replace":   strings.ReplaceAll,
}

// IsTemplate возвращает true, если строка содержит шаблонное выражение.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

// Render рендерит строковый шаблон.
//
//	{{ .order_id }}
//	{{ if .approved }}yes{{ end }}
//	{{ .customer.email | lower }}
func Render(tmpl string, data map[string]any) (string, error) {
	if !IsTemplate(tmpl) {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderValue рендерит произвольное значение.
// Рекурсивно обрабатывает map и slice, остальные типы возвращает как есть.
func RenderValue(value any, data map[string]any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil

	case string:
		return Render(v, data)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, data)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, data)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	case map[string]string:
		result := make(map[string]string, len(v))
		for key, val := range v {
			rendered, err := Render(val, data)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	default:
		return value, nil
	}
}

// RenderMap рендерит параметры действия.
func RenderMap(params map[string]any, data map[string]any) (map[string]any, error) {
	if params == nil {
		return make(map[string]any), nil
	}

	rendered, err := RenderValue(params, data)
	if err != nil {
		return nil, err
	}

	result, ok := rendered.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected map, got %T", ErrTemplateRender, rendered)
	}
	return result, nil
}

// Evaluate вычисляет условие.
//
// Условие: либо шаблон целиком ("{{ gt (num .amount) 100.0 }}"), либо
// выражение без скобок ("gt (num .amount) 100.0"). Пустое условие истинно.
func Evaluate(condition string, data map[string]any) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true, nil
	}

	if strings.HasPrefix(condition, "{{") && strings.HasSuffix(condition, "}}") && strings.Count(condition, "{{") == 1 {
		condition = strings.TrimSpace(condition[2 : len(condition)-2])
	}

	// Оборачиваем условие в if, чтобы получить bool
	tmpl := fmt.Sprintf(`{{if %s}}true{{else}}false{{end}}`, condition)

	result, err := Render(tmpl, data)
	if err != nil {
		return false, err
	}
	return result == "true", nil
}

// ParseValue приводит отрендеренную строку к JSON-типу:
// числа, bool, null, объекты и массивы; остальное остаётся строкой.
func ParseValue(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		if f, ok := v.(float64); ok && f == float64(int64(f)) && !strings.ContainsAny(trimmed, ".eE") {
			return int64(f)
		}
		return v
	}
	return s
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok && s == "" {
		return true
	}
	return false
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		var f float64
		if _, err := fmt.Sscan(n, &f); err == nil {
			return f
		}
	}
	return 0
}
