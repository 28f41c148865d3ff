package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Flowy/internal/domain"
	"github.com/shaiso/Flowy/internal/engine"
	"github.com/shaiso/Flowy/internal/registry"
	"github.com/shaiso/Flowy/internal/repo"
	"github.com/shaiso/Flowy/internal/telemetry"
)

// --- Fakes ---

type staticSource struct {
	instances []*domain.WorkflowInstance
	err       error
}

func (s staticSource) FindDueForProcessing(_ context.Context, limit int) ([]*domain.WorkflowInstance, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.instances) {
		return s.instances[:limit], nil
	}
	return s.instances, nil
}

// processorFunc адаптирует функцию к Processor.
type processorFunc func(ctx context.Context, id uuid.UUID) (engine.Outcome, error)

func (f processorFunc) Proceed(ctx context.Context, id uuid.UUID) (engine.Outcome, error) {
	return f(ctx, id)
}

func instances(n int) []*domain.WorkflowInstance {
	out := make([]*domain.WorkflowInstance, n)
	for i := range out {
		out[i] = &domain.WorkflowInstance{ID: uuid.New(), Status: domain.StatusPending}
	}
	return out
}

// --- Worker Tests ---

func TestNew_DefaultConfig(t *testing.T) {
	w := New(Config{})

	if w.pollInterval != DefaultPollInterval {
		t.Errorf("expected poll interval %v, got %v", DefaultPollInterval, w.pollInterval)
	}
	if w.batchSize != DefaultBatchSize {
		t.Errorf("expected batch size %d, got %d", DefaultBatchSize, w.batchSize)
	}
	if w.concurrency != DefaultConcurrency {
		t.Errorf("expected concurrency %d, got %d", DefaultConcurrency, w.concurrency)
	}
	if w.logger == nil {
		t.Error("expected default logger")
	}
}

func TestNew_CustomConfig(t *testing.T) {
	w := New(Config{PollInterval: time.Second, BatchSize: 5, Concurrency: 2})

	if w.pollInterval != time.Second || w.batchSize != 5 || w.concurrency != 2 {
		t.Errorf("unexpected config: %v %d %d", w.pollInterval, w.batchSize, w.concurrency)
	}
}

func TestWorker_ProcessDueCompletesInstances(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemoryStore()

	def, err := domain.NewWorkflowDefinition("greet", "1", "hello", []domain.StepDefinition{
		{
			ID: "hello",
			Actions: []domain.ActionDefinition{{
				Service: "greet",
				Func: func(_ context.Context, wctx *domain.Context, _ map[string]any) error {
					return wctx.Set("greeting", "hello "+wctx.GetString("name"))
				},
			}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defs := registry.New()
	if err := defs.Add(def); err != nil {
		t.Fatal(err)
	}

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		wctx, _ := domain.NewContext(map[string]any{"name": fmt.Sprintf("user-%d", i)})
		inst := domain.NewWorkflowInstance(def, wctx, "", time.Now())
		if err := store.Save(ctx, inst); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, inst.ID)
	}

	metrics := telemetry.NewMetrics()
	w := New(Config{
		Store:       store,
		Executor:    engine.NewExecutor(engine.Config{Store: store, Definitions: defs}),
		Metrics:     metrics,
		Concurrency: 3,
	})

	n, err := w.ProcessDue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("expected 5 processed, got %d", n)
	}

	for i, id := range ids {
		inst, err := store.Find(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if inst.Status != domain.StatusCompleted {
			t.Errorf("instance %d: expected COMPLETED, got %s", i, inst.Status)
		}
		if want := fmt.Sprintf("hello user-%d", i); inst.Context.GetString("greeting") != want {
			t.Errorf("instance %d: greeting = %q", i, inst.Context.GetString("greeting"))
		}
	}

	if n, _ := w.ProcessDue(ctx); n != 0 {
		t.Errorf("completed instances must not be due, got %d", n)
	}
}

func TestWorker_ConcurrencyLimit(t *testing.T) {
	var current, peak int32
	proc := processorFunc(func(context.Context, uuid.UUID) (engine.Outcome, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return engine.OutcomeCompleted, nil
	})

	w := New(Config{Store: staticSource{instances: instances(8)}, Executor: proc, Concurrency: 2})
	if _, err := w.ProcessDue(context.Background()); err != nil {
		t.Fatal(err)
	}

	if peak > 2 {
		t.Errorf("expected at most 2 concurrent cycles, got %d", peak)
	}
}

func TestWorker_SkipsInstanceInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls int32

	proc := processorFunc(func(context.Context, uuid.UUID) (engine.Outcome, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-release
		}
		return engine.OutcomeCompleted, nil
	})
	w := New(Config{Executor: proc})
	id := uuid.New()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Process(context.Background(), id)
	}()

	<-entered
	if err := w.Process(context.Background(), id); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Errorf("expected 1 call while in flight, got %d", calls)
	}

	// После завершения экземпляр снова можно обработать
	if err := w.Process(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestWorker_ProcessErrors(t *testing.T) {
	storeDown := errors.New("connection refused")

	tests := []struct {
		name    string
		outcome engine.Outcome
		err     error
		wantErr bool
	}{
		{name: "completed", outcome: engine.OutcomeCompleted},
		{name: "conflict", outcome: engine.OutcomeSkipped, err: fmt.Errorf("save: %w", repo.ErrConflict)},
		{name: "not found", outcome: engine.OutcomeSkipped, err: engine.ErrInstanceNotFound},
		{name: "action failed", outcome: engine.OutcomeFailed, err: &engine.ActionError{StepID: "a", Err: errors.New("boom")}},
		{name: "definition missing", outcome: engine.OutcomeFailed, err: registry.ErrDefinitionNotFound},
		{name: "store unavailable", outcome: engine.OutcomeSkipped, err: storeDown, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New(Config{Executor: processorFunc(func(context.Context, uuid.UUID) (engine.Outcome, error) {
				return tt.outcome, tt.err
			})})

			err := w.Process(context.Background(), uuid.New())
			if (err != nil) != tt.wantErr {
				t.Errorf("Process() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWorker_ProcessDueStoreError(t *testing.T) {
	w := New(Config{Store: staticSource{err: errors.New("db down")}})
	if _, err := w.ProcessDue(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestWorker_StartStop(t *testing.T) {
	due := instances(3)
	var processed int32
	done := make(chan struct{})

	proc := processorFunc(func(context.Context, uuid.UUID) (engine.Outcome, error) {
		if atomic.AddInt32(&processed, 1) == int32(len(due)) {
			close(done)
		}
		return engine.OutcomeCompleted, nil
	})

	w := New(Config{
		Store:        staticSource{instances: due},
		Executor:     proc,
		PollInterval: time.Hour,
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("first poll did not run on start")
	}

	w.Stop()
	if !w.IsStopped() {
		t.Error("expected worker to be stopped")
	}
}
