package expr

import (
	"errors"
	"reflect"
	"testing"
)

func TestRender(t *testing.T) {
	data := map[string]any{
		"name":     "test",
		"count":    42,
		"customer": map[string]any{"email": "BOB@EXAMPLE.COM"},
	}

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{name: "string value", template: "Hello, {{ .name }}!", expected: "Hello, test!"},
		{name: "number value", template: "Count: {{ .count }}", expected: "Count: 42"},
		{name: "nested value", template: "{{ .customer.email | lower }}", expected: "bob@example.com"},
		{name: "no template", template: "Plain text", expected: "Plain text"},
		{name: "default", template: `{{ default "n/a" .missing }}`, expected: "n/a"},
		{name: "json", template: "{{ json .customer }}", expected: `{"email":"BOB@EXAMPLE.COM"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Render(tt.template, data)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRender_InvalidTemplate(t *testing.T) {
	_, err := Render("{{ .name", nil)
	if !errors.Is(err, ErrTemplateParse) {
		t.Errorf("expected ErrTemplateParse, got %v", err)
	}

	_, err = Render("{{ index .list 5 }}", map[string]any{"list": []any{1}})
	if !errors.Is(err, ErrTemplateRender) {
		t.Errorf("expected ErrTemplateRender, got %v", err)
	}
}

func TestRenderMap(t *testing.T) {
	data := map[string]any{"id": "A-1", "host": "api.local"}
	params := map[string]any{
		"url":     "https://{{ .host }}/orders/{{ .id }}",
		"headers": map[string]any{"X-Order": "{{ .id }}"},
		"tags":    []any{"{{ .id }}", 7},
		"retries": 3,
	}

	result, err := RenderMap(params, data)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]any{
		"url":     "https://api.local/orders/A-1",
		"headers": map[string]any{"X-Order": "A-1"},
		"tags":    []any{"A-1", 7},
		"retries": 3,
	}
	if !reflect.DeepEqual(result, want) {
		t.Errorf("got %v, want %v", result, want)
	}

	if params["url"] != "https://{{ .host }}/orders/{{ .id }}" {
		t.Error("RenderMap must not mutate its input")
	}
}

func TestRenderMap_Nil(t *testing.T) {
	result, err := RenderMap(nil, nil)
	if err != nil || result == nil || len(result) != 0 {
		t.Errorf("expected empty map, got %v, %v", result, err)
	}
}

func TestEvaluate(t *testing.T) {
	data := map[string]any{
		"approved": true,
		"amount":   int64(150),
		"status":   "paid",
	}

	tests := []struct {
		condition string
		expected  bool
	}{
		{"", true},
		{"{{ .approved }}", true},
		{".approved", true},
		{"{{ .missing }}", false},
		{"{{ not .approved }}", false},
		{`{{ eq .status "paid" }}`, true},
		{"{{ gt (num .amount) 100.0 }}", true},
		{"{{ lt (num .amount) 100.0 }}", false},
		{`{{ and .approved (eq .status "paid") }}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.condition, func(t *testing.T) {
			got, err := Evaluate(tt.condition, data)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.condition, got, tt.expected)
			}
		})
	}
}

func TestEvaluate_Error(t *testing.T) {
	if _, err := Evaluate("{{ eq }}", nil); err == nil {
		t.Error("expected error for malformed condition")
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"42", int64(42)},
		{"1.5", 1.5},
		{"true", true},
		{"null", nil},
		{`{"a":1}`, map[string]any{"a": 1.0}},
		{"hello", "hello"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ParseValue(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseValue(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}
