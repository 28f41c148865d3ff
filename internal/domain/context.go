package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Context: упорядоченный набор данных экземпляра workflow.
//
// Действия читают и пишут в Context, условия переходов вычисляются по нему.
// Порядок ключей: порядок первой записи; он сохраняется при сериализации.
// Значения должны сериализоваться в JSON, так как Context хранится в БД.
//
// Context не потокобезопасен: экземпляр обрабатывается одним вызовом Proceed.
type Context struct {
	keys   []string
	values map[string]any
}

// NewContext создаёт Context из map.
// Ключи упорядочиваются лексикографически, так как порядок map не определён.
func NewContext(data map[string]any) (*Context, error) {
	c := &Context{values: make(map[string]any, len(data))}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := c.Set(k, data[k]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// EmptyContext возвращает пустой Context.
func EmptyContext() *Context {
	return &Context{values: make(map[string]any)}
}

// Set записывает значение по ключу.
func (c *Context) Set(key string, value any) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidContextKey
	}
	if _, err := json.Marshal(value); err != nil {
		return fmt.Errorf("%w: key %q: %v", ErrInvalidContextValue, key, err)
	}

	c.init()
	if _, exists := c.values[key]; !exists {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
	return nil
}

// Get возвращает значение по ключу.
func (c *Context) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.values[key]
	return v, ok
}

// GetString возвращает строковое значение или "".
func (c *Context) GetString(key string) string {
	v, ok := c.Get(key)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Has возвращает true, если ключ присутствует.
func (c *Context) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete удаляет ключ. Отсутствующий ключ игнорируется.
func (c *Context) Delete(key string) {
	if c == nil {
		return
	}
	if _, ok := c.values[key]; !ok {
		return
	}
	delete(c.values, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

// Keys возвращает ключи в порядке записи.
func (c *Context) Keys() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Len возвращает количество ключей.
func (c *Context) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Merge записывает все пары из data поверх текущих значений.
func (c *Context) Merge(data map[string]any) error {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := c.Set(k, data[k]); err != nil {
			return err
		}
	}
	return nil
}

// ToMap возвращает копию данных в виде map.
// Используется как источник данных для шаблонов и при сериализации.
func (c *Context) ToMap() map[string]any {
	out := make(map[string]any, c.Len())
	if c == nil {
		return out
	}
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Clone возвращает независимую копию.
// Значения копируются через JSON, чтобы вложенные map не разделялись.
func (c *Context) Clone() *Context {
	clone := EmptyContext()
	if c == nil {
		return clone
	}
	if data, err := c.MarshalJSON(); err == nil {
		if err := clone.UnmarshalJSON(data); err == nil {
			return clone
		}
		clone = EmptyContext()
	}
	clone.keys = append(clone.keys, c.keys...)
	for k, v := range c.values {
		clone.values[k] = v
	}
	return clone
}

// MarshalJSON сериализует Context как JSON-объект с сохранением порядка.
func (c *Context) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("{}"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(c.values[k])
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrInvalidContextValue, k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON восстанавливает Context, сохраняя порядок ключей документа.
func (c *Context) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		c.keys, c.values = nil, make(map[string]any)
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("context: expected JSON object, got %v", tok)
	}

	c.keys = nil
	c.values = make(map[string]any)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("context: expected string key, got %v", tok)
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("context: key %q: %w", key, err)
		}
		if err := c.Set(key, normalizeNumbers(value)); err != nil {
			return err
		}
	}

	_, err = dec.Token()
	return err
}

func (c *Context) init() {
	if c.values == nil {
		c.values = make(map[string]any)
	}
}

// normalizeNumbers превращает json.Number в int64 или float64.
// Целые остаются целыми после round-trip через хранилище.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	default:
		return v
	}
}
