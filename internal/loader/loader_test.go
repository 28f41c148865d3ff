package loader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Flowy/internal/domain"
)

const orderYAML = `
id: order-processing
version: 1.0
name: Order processing
initialStepId: validate
steps:
  - id: validate
    actions:
      - service: validate_order
        parameters:
          strict: true
    transitions:
      - target: wait_payment
    retryPolicy:
      attempts: 3
      fixedDelaySeconds: 5
      jitterFactor: 0.1
    timeout: PT5M
  - id: wait_payment
    transitions:
      - target: ship
        event: payment_received
      - target: cancelled
        condition: "{{ .expired }}"
  - id: ship
    actions:
      - callable: ship_order
  - id: cancelled
`

func TestLoadBytes_YAML(t *testing.T) {
	def, err := LoadBytes([]byte(orderYAML), "order.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if def.ID != "order-processing" || def.Version != "1.0" || def.Name != "Order processing" {
		t.Errorf("header = %s %s %s", def.ID, def.Version, def.Name)
	}
	if len(def.StepOrder) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(def.StepOrder))
	}

	validate := def.Steps["validate"]
	if validate.RetryPolicy == nil || validate.RetryPolicy.Attempts != 3 || validate.RetryPolicy.FixedDelaySeconds != 5 {
		t.Errorf("retry policy = %+v", validate.RetryPolicy)
	}
	if validate.TimeoutDuration() != 5*time.Minute {
		t.Errorf("timeout = %v", validate.TimeoutDuration())
	}
	if validate.Actions[0].Parameters["strict"] != true {
		t.Errorf("parameters = %v", validate.Actions[0].Parameters)
	}

	wait := def.Steps["wait_payment"]
	if !wait.Transitions[0].IsEventGated() || wait.Transitions[0].Event != "payment_received" {
		t.Error("first transition should wait for payment_received")
	}
	if wait.Transitions[1].Condition != "{{ .expired }}" {
		t.Errorf("condition = %q", wait.Transitions[1].Condition)
	}

	if def.Steps["ship"].Actions[0].Service != "ship_order" {
		t.Error("callable should resolve to the action name")
	}
}

func TestLoadBytes_JSON(t *testing.T) {
	doc := `{
  "id": "ping",
  "version": "2.0.0",
  "initialStepId": "call",
  "steps": [
    {"id": "call", "actions": [{"service": "http", "parameters": {"url": "http://example.com"}}]}
  ]
}`

	def, err := LoadBytes([]byte(doc), "ping.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Key() != "ping@2.0.0" {
		t.Errorf("Key() = %s", def.Key())
	}
}

func TestLoadBytes_MissingKeys(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{
			name:  "no id",
			doc:   "version: 1\ninitialStepId: a\nsteps:\n  - id: a\n",
			field: "id",
		},
		{
			name:  "no version",
			doc:   "id: w\ninitialStepId: a\nsteps:\n  - id: a\n",
			field: "version",
		},
		{
			name:  "no steps",
			doc:   "id: w\nversion: 1\ninitialStepId: a\n",
			field: "steps",
		},
		{
			name:  "no initial step",
			doc:   "id: w\nversion: 1\nsteps:\n  - id: a\n",
			field: "initialStepId",
		},
		{
			name:  "step without id",
			doc:   "id: w\nversion: 1\ninitialStepId: a\nsteps:\n  - name: a\n",
			field: "steps[0].id",
		},
		{
			name:  "transition without target",
			doc:   "id: w\nversion: 1\ninitialStepId: a\nsteps:\n  - id: a\n    transitions:\n      - condition: x\n",
			field: "steps[0].transitions[0].target",
		},
		{
			name:  "action without reference",
			doc:   "id: w\nversion: 1\ninitialStepId: a\nsteps:\n  - id: a\n    actions:\n      - description: x\n",
			field: "steps[0].actions[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.doc), "test.yaml")
			if !errors.Is(err, ErrDefinitionLoading) {
				t.Fatalf("expected ErrDefinitionLoading, got %v", err)
			}
			if !errors.Is(err, ErrMissingKey) {
				t.Errorf("expected ErrMissingKey, got %v", err)
			}

			var lErr *LoadError
			if !errors.As(err, &lErr) {
				t.Fatalf("expected *LoadError, got %T", err)
			}
			if lErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", lErr.Field, tt.field)
			}
		})
	}
}

func TestLoadBytes_InvalidDefinition(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown initial step",
			doc:  "id: w\nversion: 1\ninitialStepId: zzz\nsteps:\n  - id: a\n",
			want: `initial step "zzz" not found`,
		},
		{
			name: "duplicate step ids",
			doc:  "id: w\nversion: 1\ninitialStepId: a\nsteps:\n  - id: a\n  - id: a\n",
			want: "duplicate step id",
		},
		{
			name: "unknown target",
			doc:  "id: w\nversion: 1\ninitialStepId: a\nsteps:\n  - id: a\n    transitions:\n      - target: b\n",
			want: `target "b" not found`,
		},
		{
			name: "bad retry policy",
			doc:  "id: w\nversion: 1\ninitialStepId: a\nsteps:\n  - id: a\n    retryPolicy:\n      attempts: 1\n      jitterFactor: 3\n",
			want: "jitter factor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.doc), "test.yaml")
			if !errors.Is(err, ErrDefinitionLoading) {
				t.Fatalf("expected ErrDefinitionLoading, got %v", err)
			}
			if !errors.Is(err, domain.ErrInvalidDefinition) {
				t.Errorf("expected wrapped ErrInvalidDefinition, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should contain %q", err, tt.want)
			}
		})
	}
}

func TestLoadBytes_Malformed(t *testing.T) {
	for _, doc := range []string{"", "- just\n- a list\n", "id: [unclosed"} {
		if _, err := LoadBytes([]byte(doc), "bad.yaml"); !errors.Is(err, ErrDefinitionLoading) {
			t.Errorf("LoadBytes(%q): expected ErrDefinitionLoading, got %v", doc, err)
		}
	}
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	_, err := LoadFile("workflow.toml")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("b.yaml", "id: b\nversion: 1\ninitialStepId: s\nsteps:\n  - id: s\n")
	write("a.json", `{"id": "a", "version": "1", "initialStepId": "s", "steps": [{"id": "s"}]}`)
	write("notes.txt", "ignored")

	defs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(defs) != 2 || defs[0].ID != "a" || defs[1].ID != "b" {
		t.Errorf("unexpected definitions: %v", defs)
	}

	write("c.yaml", "id: c\n")
	if _, err := LoadDir(dir); !errors.Is(err, ErrDefinitionLoading) {
		t.Errorf("expected ErrDefinitionLoading for broken file, got %v", err)
	}
}
