package registry

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shaiso/Flowy/internal/domain"
)

func mustDefinition(t *testing.T, id, version string) *domain.WorkflowDefinition {
	t.Helper()
	def, err := domain.NewWorkflowDefinition(id, version, "start", []domain.StepDefinition{
		{ID: "start", Actions: []domain.ActionDefinition{{Service: "noop"}}},
	})
	if err != nil {
		t.Fatalf("NewWorkflowDefinition: %v", err)
	}
	return def
}

func TestRegistry_GetLatestAndExact(t *testing.T) {
	r := New()
	v1 := mustDefinition(t, "orders", "1.0.0")
	v2 := mustDefinition(t, "orders", "2.0.0")

	if err := r.Add(v2); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(v1); err != nil {
		t.Fatal(err)
	}

	latest, err := r.Get("orders", "")
	if err != nil {
		t.Fatal(err)
	}
	if latest != v2 {
		t.Errorf("latest = %s, want 2.0.0", latest.Version)
	}

	exact, err := r.Get("orders", "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if exact != v1 {
		t.Errorf("exact = %s, want 1.0.0", exact.Version)
	}
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := New()
	_ = r.Add(mustDefinition(t, "orders", "1.0.0"))

	if _, err := r.Get("unknown", ""); !errors.Is(err, ErrDefinitionNotFound) {
		t.Errorf("unknown id: expected ErrDefinitionNotFound, got %v", err)
	}
	if _, err := r.Get("orders", "9.9.9"); !errors.Is(err, ErrDefinitionNotFound) {
		t.Errorf("unknown version: expected ErrDefinitionNotFound, got %v", err)
	}
}

func TestRegistry_AddDuplicate(t *testing.T) {
	r := New()
	if err := r.Add(mustDefinition(t, "orders", "1.0.0")); err != nil {
		t.Fatal(err)
	}

	err := r.Add(mustDefinition(t, "orders", "1.0.0"))
	if !errors.Is(err, ErrDefinitionAlreadyExists) {
		t.Errorf("expected ErrDefinitionAlreadyExists, got %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestRegistry_ConcurrentDuplicateAdd(t *testing.T) {
	r := New()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	defs := make([]*domain.WorkflowDefinition, 16)
	for i := range defs {
		defs[i] = mustDefinition(t, "orders", "1.0.0")
	}
	for _, def := range defs {
		def := def
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Add(def); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Errorf("accepted %d concurrent adds, want 1", accepted)
	}
	if _, err := r.Get("orders", ""); err != nil {
		t.Errorf("latest index broken: %v", err)
	}
}

func TestRegistry_AddAllIsAtomic(t *testing.T) {
	r := New()
	_ = r.Add(mustDefinition(t, "orders", "1.0.0"))

	err := r.AddAll(
		mustDefinition(t, "billing", "1.0.0"),
		mustDefinition(t, "orders", "1.0.0"),
	)
	if !errors.Is(err, ErrDefinitionAlreadyExists) {
		t.Fatalf("expected ErrDefinitionAlreadyExists, got %v", err)
	}
	if r.Has("billing", "") {
		t.Error("billing must not be registered after a failed AddAll")
	}
}

func TestRegistry_FindPreservesInsertionOrder(t *testing.T) {
	r := New()
	_ = r.Add(mustDefinition(t, "orders", "2.0.0"))
	_ = r.Add(mustDefinition(t, "billing", "1.0.0"))
	_ = r.Add(mustDefinition(t, "orders", "1.0.0"))

	all := r.Find("")
	if len(all) != 3 {
		t.Fatalf("Find(\"\") returned %d definitions", len(all))
	}
	want := []string{"orders@2.0.0", "billing@1.0.0", "orders@1.0.0"}
	for i, def := range all {
		if def.Key() != want[i] {
			t.Errorf("[%d] = %s, want %s", i, def.Key(), want[i])
		}
	}

	orders := r.Find("orders")
	if len(orders) != 2 || orders[0].Version != "2.0.0" {
		t.Errorf("unexpected orders versions: %v", orders)
	}

	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "orders" || ids[1] != "billing" {
		t.Errorf("IDs() = %v", ids)
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "2.0.0", -1},
		{"1.10.0", "1.9.0", 1},
		{"1.0", "1.0.0", 0},
		{"v2", "1.5.0", 1},
		{"1.0.0-beta", "1.0.0", -1},
		{"2024.01.release", "2024.02.release", -1},
		{"10.a", "9.a", 1},
	}

	for _, tt := range tests {
		if got := CompareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRegistry_LoadDir(t *testing.T) {
	dir := t.TempDir()
	doc := `
id: onboarding
version: 1.0.0
initialStepId: welcome
steps:
  - id: welcome
    actions:
      - service: send_email
`
	if err := os.WriteFile(filepath.Join(dir, "onboarding.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New()
	defs, err := r.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(defs) != 1 || !r.Has("onboarding", "1.0.0") {
		t.Errorf("definition not registered: %v", defs)
	}
}
