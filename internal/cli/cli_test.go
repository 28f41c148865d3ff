package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Flowy/internal/actions"
	"github.com/shaiso/Flowy/internal/config"
	"github.com/shaiso/Flowy/internal/domain"
	"github.com/shaiso/Flowy/internal/engine"
	"github.com/shaiso/Flowy/internal/loader"
	"github.com/shaiso/Flowy/internal/registry"
	"github.com/shaiso/Flowy/internal/repo"
)

type harness struct {
	env    *Env
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	reserve := func(_ context.Context, wctx *domain.Context, _ map[string]any) error {
		return wctx.Set("reserved", true)
	}
	broken := func(context.Context, *domain.Context, map[string]any) error {
		return errors.New("upstream unavailable")
	}

	defs := registry.New()
	require.NoError(t, defs.AddAll(
		loader.NewBuilder("order", "1.0.0").
			Name("Order").
			Step("reserve").Do(reserve, nil).Then("wait").
			Step("wait").OnEvent("done", "paid").
			Step("done").
			MustBuild(),
		loader.NewBuilder("import", "1.0.0").
			Step("fetch").Do(broken, nil).Then("done").
			Step("done").
			MustBuild(),
	))

	env := NewEnvWith(repo.NewMemoryStore(), defs, engine.Config{Actions: actions.DefaultRegistry()})
	return &harness{env: env, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
}

func (h *harness) run(args ...string) error {
	h.stdout.Reset()
	h.stderr.Reset()

	format := FormatTable
	root := newRoot(
		func() (*Env, error) { return h.env, nil },
		func() *Output { return NewOutputTo(h.stdout, h.stderr, format) },
		&format,
	)
	root.SetArgs(args)
	root.SetOut(h.stdout)
	root.SetErr(h.stderr)
	return root.ExecuteContext(context.Background())
}

// start запускает экземпляр и возвращает его JSON-представление.
func (h *harness) start(t *testing.T, args ...string) map[string]any {
	t.Helper()
	require.NoError(t, h.run(append([]string{"instance", "start", "-o", "json"}, args...)...))
	return h.decode(t)
}

func (h *harness) decode(t *testing.T) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &v), h.stdout.String())
	return v
}

func TestDefinitionList(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("definition", "list"))
	out := h.stdout.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "order")
	assert.Contains(t, out, "import")
	assert.Contains(t, out, "1.0.0")
}

func TestDefinitionShow(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("definition", "show", "order"))
	out := h.stdout.String()
	assert.Contains(t, out, "on paid -> done")
	assert.Contains(t, out, "Waits for signals:")

	require.NoError(t, h.run("definition", "show", "order", "-o", "json"))
	report := h.decode(t)
	assert.Equal(t, "order", report["definition"].(map[string]any)["id"])
	assert.Equal(t, []any{"done"}, report["graph"].(map[string]any)["Terminal"])

	err := h.run("definition", "show", "missing")
	require.ErrorIs(t, err, registry.ErrDefinitionNotFound)
	assert.Equal(t, "definition not found", UserMessage(err))
}

func TestInstanceLifecycle(t *testing.T) {
	h := newHarness(t)

	inst := h.start(t, "order", "--business-key", "A-1", "--set", "amount=42", "--set", "note=rush")
	assert.Equal(t, "RUNNING", inst["status"])
	assert.Equal(t, "wait", inst["current_step_id"])
	id := inst["id"].(string)

	ctxData := inst["context"].(map[string]any)
	assert.Equal(t, float64(42), ctxData["amount"])
	assert.Equal(t, "rush", ctxData["note"])
	assert.Equal(t, true, ctxData["reserved"])

	require.NoError(t, h.run("instance", "signal", id, "paid", "--set", "method=card"))
	assert.Contains(t, h.stderr.String(), "Signal paid delivered")

	require.NoError(t, h.run("instance", "proceed", id, "-o", "json"))
	done := h.decode(t)
	assert.Equal(t, "COMPLETED", done["status"])
	assert.Equal(t, "card", done["context"].(map[string]any)["method"])

	require.NoError(t, h.run("instance", "show", "A-1", "--definition", "order"))
	assert.Contains(t, h.stdout.String(), id)
	assert.Contains(t, h.stdout.String(), "History")
	assert.Contains(t, h.stdout.String(), "Signal received: paid")
}

func TestInstancePauseResumeCancel(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "order")["id"].(string)

	require.NoError(t, h.run("instance", "pause", id))
	assert.Contains(t, h.stderr.String(), "PAUSED")

	require.NoError(t, h.run("instance", "list", "--status", "paused", "-o", "json"))
	var paused []map[string]any
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &paused))
	require.Len(t, paused, 1)
	assert.Equal(t, id, paused[0]["id"])

	require.NoError(t, h.run("instance", "resume", id))
	assert.Contains(t, h.stderr.String(), "RUNNING")

	require.NoError(t, h.run("instance", "cancel", id))
	assert.Contains(t, h.stderr.String(), "CANCELLED")

	err := h.run("instance", "resume", id)
	require.ErrorIs(t, err, engine.ErrInvalidState)
	assert.Contains(t, UserMessage(err), "operation not allowed")
}

func TestInstanceFailedRetryAndSweep(t *testing.T) {
	h := newHarness(t)
	inst := h.start(t, "import")
	assert.Equal(t, "FAILED", inst["status"])
	id := inst["id"].(string)

	require.NoError(t, h.run("instance", "failed", "--definition", "import"))
	assert.Contains(t, h.stdout.String(), id)

	require.NoError(t, h.run("sweep", "-o", "json"))
	result := h.decode(t)
	assert.Equal(t, float64(1), result["Candidates"])
	assert.Equal(t, float64(0), result["Retried"])

	require.NoError(t, h.run("instance", "retry", id))
	assert.Contains(t, h.stderr.String(), "FAILED")

	require.NoError(t, h.run("sweep", "--auto-retry", "--max-auto-retries", "1", "-o", "json"))
	result = h.decode(t)
	assert.Equal(t, float64(1), result["Exhausted"])
}

func TestInstanceNotFound(t *testing.T) {
	h := newHarness(t)

	err := h.run("instance", "show", uuid.NewString())
	require.ErrorIs(t, err, engine.ErrInstanceNotFound)
	assert.Equal(t, "instance not found", UserMessage(err))

	err = h.run("instance", "show", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid instance id")
}

func TestInvalidArguments(t *testing.T) {
	h := newHarness(t)

	assert.Error(t, h.run("definition", "list", "-o", "yaml"))
	assert.Error(t, h.run("instance", "list", "--status", "SLEEPING"))
	assert.Error(t, h.run("instance", "start", "order", "--set", "novalue"))
	assert.NoError(t, h.run("instance", "start", "order", "--business-key", "K"))
	assert.ErrorIs(t, h.run("instance", "start", "order", "--business-key", "K"), engine.ErrDuplicateBusinessKey)
}

func TestParseKeyValues(t *testing.T) {
	dst := map[string]any{}
	require.NoError(t, parseKeyValues([]string{"n=42", "ok=true", "s=hello", "obj={\"a\":1}", "eq=a=b"}, dst))

	assert.Equal(t, float64(42), dst["n"])
	assert.Equal(t, true, dst["ok"])
	assert.Equal(t, "hello", dst["s"])
	assert.Equal(t, map[string]any{"a": float64(1)}, dst["obj"])
	assert.Equal(t, "a=b", dst["eq"])

	assert.Error(t, parseKeyValues([]string{"=x"}, dst))
}

func TestOutputTable(t *testing.T) {
	var stdout, stderr bytes.Buffer
	out := NewOutputTo(&stdout, &stderr, FormatTable)

	out.Print([]string{"ID", "STATUS"}, [][]string{{"1", "RUNNING"}}, nil)
	out.Success("done")

	assert.Equal(t, "ID  STATUS\n--  ------\n1   RUNNING\n", stdout.String())
	assert.Equal(t, "done\n", stderr.String())
}

func TestNewEnv(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env, err := NewEnv(context.Background(), &config.Config{
		StoreDriver:    config.DriverMemory,
		DefinitionsDir: filepath.Join("..", "..", "definitions"),
	}, logger)
	require.NoError(t, err)
	defer env.Close()

	def, err := env.Definitions.Latest("order-fulfillment")
	require.NoError(t, err)
	assert.Equal(t, "reserve", def.InitialStepID)
	assert.Empty(t, loader.Analyze(def).Unreachable)

	// Каталога нет: реестр пустой, ошибки нет
	env, err = NewEnv(context.Background(), &config.Config{
		StoreDriver:    config.DriverMemory,
		DefinitionsDir: filepath.Join(t.TempDir(), "absent"),
	}, logger)
	require.NoError(t, err)
	assert.Zero(t, env.Definitions.Count())
}
