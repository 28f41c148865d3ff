package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaiso/Flowy/internal/domain"
	"github.com/shaiso/Flowy/internal/registry"
	"github.com/shaiso/Flowy/internal/repo"
)

// fakeClock: управляемые часы для тестов.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder собирает события.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) Count(t EventType) int {
	n := 0
	for _, et := range r.Types() {
		if et == t {
			n++
		}
	}
	return n
}

type harness struct {
	store    *repo.MemoryStore
	registry *registry.Registry
	clock    *fakeClock
	events   *recorder
	executor *Executor
	service  *Service
}

func newHarness(t *testing.T, defs ...*domain.WorkflowDefinition) *harness {
	t.Helper()

	h := &harness{
		registry: registry.New(),
		clock:    newFakeClock(),
		events:   &recorder{},
	}
	h.store = repo.NewMemoryStore(repo.WithClock(h.clock.Now))
	require.NoError(t, h.registry.AddAll(defs...))

	h.executor = NewExecutor(Config{
		Store:       h.store,
		Definitions: h.registry,
		Events:      h.events,
		Clock:       h.clock.Now,
	})
	h.service = NewService(ServiceConfig{
		Store:       h.store,
		Definitions: h.registry,
		Executor:    h.executor,
		Events:      h.events,
		Clock:       h.clock.Now,
	})
	return h
}

// create сохраняет новый PENDING экземпляр без запуска цикла.
func (h *harness) create(t *testing.T, def *domain.WorkflowDefinition, data map[string]any) *domain.WorkflowInstance {
	t.Helper()
	wctx, err := domain.NewContext(data)
	require.NoError(t, err)

	inst := domain.NewWorkflowInstance(def, wctx, "", h.clock.Now())
	require.NoError(t, h.store.Save(context.Background(), inst))
	return inst
}

func (h *harness) load(t *testing.T, inst *domain.WorkflowInstance) *domain.WorkflowInstance {
	t.Helper()
	got, err := h.store.Find(context.Background(), inst.ID)
	require.NoError(t, err)
	return got
}

// mutate изменяет сохранённый экземпляр в обход движка.
func (h *harness) mutate(t *testing.T, inst *domain.WorkflowInstance, fn func(*domain.WorkflowInstance)) {
	t.Helper()
	got := h.load(t, inst)
	fn(got)
	require.NoError(t, h.store.Save(context.Background(), got))
}

func mustDefinition(t *testing.T, id, version, initial string, steps ...domain.StepDefinition) *domain.WorkflowDefinition {
	t.Helper()
	def, err := domain.NewWorkflowDefinition(id, version, initial, steps)
	require.NoError(t, err)
	return def
}

func setAction(key string, value any) domain.ActionDefinition {
	return domain.ActionDefinition{
		Service: "set_" + key,
		Func: func(_ context.Context, wctx *domain.Context, _ map[string]any) error {
			return wctx.Set(key, value)
		},
	}
}

func failingAction(err error) domain.ActionDefinition {
	return domain.ActionDefinition{
		Service: "always_fails",
		Func: func(context.Context, *domain.Context, map[string]any) error {
			return err
		},
	}
}

// countingAction считает вызовы.
func countingAction(calls *int) domain.ActionDefinition {
	return domain.ActionDefinition{
		Service: "count",
		Func: func(context.Context, *domain.Context, map[string]any) error {
			*calls++
			return nil
		},
	}
}
