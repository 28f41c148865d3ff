package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Flowy/internal/domain"
	"github.com/shaiso/Flowy/internal/registry"
	"github.com/shaiso/Flowy/internal/repo"
)

// --- Start Tests ---

func TestService_StartRunsFirstCycle(t *testing.T) {
	def := mustDefinition(t, "greet", "1.0.0", "hello",
		domain.StepDefinition{
			ID:          "hello",
			Actions:     []domain.ActionDefinition{setAction("greeted", true)},
			Transitions: []domain.TransitionDefinition{{Target: "bye"}},
		},
		domain.StepDefinition{ID: "bye"},
	)
	h := newHarness(t, def)

	inst, err := h.service.Start(context.Background(), StartRequest{
		DefinitionID: "greet",
		Context:      map[string]any{"name": "Bob"},
		BusinessKey:  "greet-bob",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, inst.Status)
	assert.Equal(t, "1.0.0", inst.DefinitionVersion)
	assert.Equal(t, "greet-bob", inst.BusinessKey)
	assert.Equal(t, "Bob", inst.Context.GetString("name"))
	assert.True(t, inst.Context.Has("greeted"))
	require.NotEmpty(t, inst.History)
	assert.Equal(t, "Workflow instance created", inst.History[0].Message)
}

func TestService_StartPicksLatestOrRequestedVersion(t *testing.T) {
	v1 := mustDefinition(t, "w", "1.0.0", "a", domain.StepDefinition{ID: "a"})
	v2 := mustDefinition(t, "w", "1.10.0", "a", domain.StepDefinition{ID: "a"})
	h := newHarness(t, v1, v2)
	ctx := context.Background()

	latest, err := h.service.Start(ctx, StartRequest{DefinitionID: "w"})
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", latest.DefinitionVersion)

	pinned, err := h.service.Start(ctx, StartRequest{DefinitionID: "w", Version: "1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", pinned.DefinitionVersion)
}

func TestService_StartUnknownDefinition(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.Start(context.Background(), StartRequest{DefinitionID: "missing"})
	assert.ErrorIs(t, err, registry.ErrDefinitionNotFound)
	assert.Zero(t, h.store.Len())
}

func TestService_StartDuplicateBusinessKey(t *testing.T) {
	def := signalDefinition(t, "")
	h := newHarness(t, def)
	ctx := context.Background()

	_, err := h.service.Start(ctx, StartRequest{DefinitionID: def.ID, BusinessKey: "order-1"})
	require.NoError(t, err)

	_, err = h.service.Start(ctx, StartRequest{DefinitionID: def.ID, BusinessKey: "order-1"})
	assert.ErrorIs(t, err, ErrDuplicateBusinessKey)
	assert.Equal(t, 1, h.store.Len())
}

func TestService_StartInvalidContext(t *testing.T) {
	def := signalDefinition(t, "")
	h := newHarness(t, def)

	_, err := h.service.Start(context.Background(), StartRequest{
		DefinitionID: def.ID,
		Context:      map[string]any{"ch": make(chan int)},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidContextValue)
}

// --- Pause / Resume Tests ---

func TestService_PauseAndResume(t *testing.T) {
	def := signalDefinition(t, "")
	h := newHarness(t, def)
	ctx := context.Background()

	inst, err := h.service.Start(ctx, StartRequest{DefinitionID: def.ID})
	require.NoError(t, err)
	require.Equal(t, domain.StatusRunning, inst.Status)

	paused, err := h.service.Pause(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, paused.Status)

	_, err = h.service.Pause(ctx, inst.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	// Сигнал во время паузы ставится в очередь, но не делает экземпляр готовым
	_, err = h.service.Signal(ctx, inst.ID, "payment_received", map[string]any{"amount": 10})
	require.NoError(t, err)
	due, err := h.store.FindDueForProcessing(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	resumed, err := h.service.Resume(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resumed.Status, "queued signal is consumed on resume")
	assert.Equal(t, "paid", resumed.CurrentStepID)

	assert.Equal(t, 1, h.events.Count(EventWorkflowPaused))
	assert.Equal(t, 1, h.events.Count(EventWorkflowResumed))
}

func TestService_ResumeRequiresPaused(t *testing.T) {
	def := signalDefinition(t, "")
	h := newHarness(t, def)
	inst := h.create(t, def, nil)

	_, err := h.service.Resume(context.Background(), inst.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestService_PausedInstanceIsNotProceeded(t *testing.T) {
	def := signalDefinition(t, "")
	h := newHarness(t, def)
	ctx := context.Background()

	inst, err := h.service.Start(ctx, StartRequest{DefinitionID: def.ID})
	require.NoError(t, err)
	_, err = h.service.Pause(ctx, inst.ID)
	require.NoError(t, err)

	outcome, err := h.executor.Proceed(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
}

// --- Cancel Tests ---

func TestService_Cancel(t *testing.T) {
	def := signalDefinition(t, "PT1H")
	h := newHarness(t, def)
	ctx := context.Background()

	inst, err := h.service.Start(ctx, StartRequest{DefinitionID: def.ID})
	require.NoError(t, err)
	require.NotNil(t, inst.ScheduledAt)

	cancelled, err := h.service.Cancel(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.ScheduledAt)
	assert.False(t, cancelled.WaitingForSignal)
	assert.Equal(t, 1, h.events.Count(EventWorkflowCancelled))

	_, err = h.service.Cancel(ctx, inst.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestService_CancelPending(t *testing.T) {
	def := signalDefinition(t, "")
	h := newHarness(t, def)
	inst := h.create(t, def, nil)

	cancelled, err := h.service.Cancel(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
}

func TestService_CancelFailedIsRejected(t *testing.T) {
	def := mustDefinition(t, "w", "1", "a",
		domain.StepDefinition{ID: "a", Actions: []domain.ActionDefinition{failingAction(errors.New("boom"))}},
	)
	h := newHarness(t, def)

	inst, err := h.service.Start(context.Background(), StartRequest{DefinitionID: "w"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, inst.Status)

	_, err = h.service.Cancel(context.Background(), inst.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

// --- Retry Tests ---

func TestService_RetryFailedStep(t *testing.T) {
	calls := 0
	flaky := domain.ActionDefinition{
		Service: "flaky",
		Func: func(context.Context, *domain.Context, map[string]any) error {
			calls++
			if calls == 1 {
				return errors.New("downstream unavailable")
			}
			return nil
		},
	}
	def := mustDefinition(t, "w", "1", "a",
		domain.StepDefinition{
			ID:          "a",
			Actions:     []domain.ActionDefinition{flaky},
			Transitions: []domain.TransitionDefinition{{Target: "b"}},
		},
		domain.StepDefinition{ID: "b"},
	)
	h := newHarness(t, def)
	ctx := context.Background()

	inst, err := h.service.Start(ctx, StartRequest{DefinitionID: "w"})
	require.NoError(t, err, "cycle failure is reported through status")
	require.Equal(t, domain.StatusFailed, inst.Status)
	assert.Equal(t, 1, inst.RetryAttempts)
	assert.Equal(t, "a", inst.CurrentStepID)

	retried, err := h.service.RetryFailedStep(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, retried.Status)
	assert.Equal(t, "b", retried.CurrentStepID)
	assert.Zero(t, retried.RetryAttempts)
	assert.Empty(t, retried.ErrorDetails)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, h.events.Count(EventWorkflowRetryRequested))
	assert.Equal(t, 1, RetryRequests(retried))

	_, err = h.service.RetryFailedStep(ctx, inst.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

// --- Signal Tests ---

func TestService_SignalValidation(t *testing.T) {
	def := mustDefinition(t, "w", "1", "a", domain.StepDefinition{ID: "a"})
	h := newHarness(t, def)
	ctx := context.Background()

	inst, err := h.service.Start(ctx, StartRequest{DefinitionID: "w"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, inst.Status)

	_, err = h.service.Signal(ctx, inst.ID, "  ", nil)
	assert.ErrorIs(t, err, ErrInvalidSignal)

	_, err = h.service.Signal(ctx, inst.ID, "late", nil)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.service.Signal(ctx, uuid.New(), "any", nil)
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestService_SignalRejectsUnserializablePayload(t *testing.T) {
	def := signalDefinition(t, "")
	h := newHarness(t, def)
	ctx := context.Background()

	inst, err := h.service.Start(ctx, StartRequest{DefinitionID: def.ID})
	require.NoError(t, err)
	require.True(t, inst.WaitingForSignal)
	before := h.load(t, inst).Version

	_, err = h.service.Signal(ctx, inst.ID, "payment_received", map[string]any{"bad": make(chan int)})
	require.ErrorIs(t, err, ErrInvalidSignal)
	assert.ErrorIs(t, err, domain.ErrInvalidContextValue)

	got := h.load(t, inst)
	assert.Empty(t, got.Signals)
	assert.Equal(t, before, got.Version, "rejected signal must not be persisted")
	assert.Equal(t, 0, h.events.Count(EventSignalReceived))

	// Корректный сигнал после отклонённого доставляется как обычно
	_, err = h.service.Signal(ctx, inst.ID, "payment_received", map[string]any{"ok": true})
	require.NoError(t, err)
	outcome, err := h.executor.Proceed(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
}

func TestService_SignalQueuedBeforeWaiting(t *testing.T) {
	def := signalDefinition(t, "")
	h := newHarness(t, def)
	ctx := context.Background()
	inst := h.create(t, def, nil)

	got, err := h.service.Signal(ctx, inst.ID, "payment_received", nil)
	require.NoError(t, err)
	assert.Nil(t, got.ScheduledAt, "pending instance is already due")
	require.Len(t, got.Signals, 1)
	assert.Equal(t, 1, h.events.Count(EventSignalReceived))

	outcome, err := h.executor.Proceed(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
}

// --- Lookup Tests ---

func TestService_Lookups(t *testing.T) {
	def := signalDefinition(t, "")
	h := newHarness(t, def)
	ctx := context.Background()

	inst, err := h.service.Start(ctx, StartRequest{DefinitionID: def.ID, BusinessKey: "k-1"})
	require.NoError(t, err)

	got, err := h.service.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, got.ID)

	byKey, err := h.service.FindByBusinessKey(ctx, def.ID, "k-1")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, byKey.ID)

	_, err = h.service.FindByBusinessKey(ctx, def.ID, "k-2")
	assert.ErrorIs(t, err, ErrInstanceNotFound)

	_, err = h.service.GetInstance(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrInstanceNotFound)

	running, err := h.service.FindInstancesByStatus(ctx, repo.StatusQuery{Status: domain.StatusRunning, Limit: 10})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, inst.ID, running[0].ID)
}

// --- Concurrency Tests ---

// flakyStore возвращает конфликт на первом сохранении.
type flakyStore struct {
	*repo.MemoryStore
	conflicts int
}

func (s *flakyStore) Save(ctx context.Context, inst *domain.WorkflowInstance) error {
	if s.conflicts > 0 {
		s.conflicts--
		return repo.ErrConflict
	}
	return s.MemoryStore.Save(ctx, inst)
}

func TestService_UpdateRetriesOnConflict(t *testing.T) {
	def := signalDefinition(t, "")
	h := newHarness(t, def)
	inst := h.create(t, def, nil)

	store := &flakyStore{MemoryStore: h.store, conflicts: 2}
	svc := NewService(ServiceConfig{Store: store, Definitions: h.registry, Clock: h.clock.Now})

	got, err := svc.Cancel(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	store.conflicts = maxUpdateAttempts
	inst2 := h.create(t, def, nil)
	_, err = svc.Cancel(context.Background(), inst2.ID)
	assert.ErrorIs(t, err, repo.ErrConflict)
	assert.Equal(t, domain.StatusPending, h.load(t, inst2).Status)
}
