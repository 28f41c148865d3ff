package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/shaiso/Flowy/internal/actions"
	"github.com/shaiso/Flowy/internal/config"
	"github.com/shaiso/Flowy/internal/domain"
	"github.com/shaiso/Flowy/internal/engine"
	"github.com/shaiso/Flowy/internal/registry"
	"github.com/shaiso/Flowy/internal/repo"
)

// Env: зависимости команд: хранилище, определения и сервис.
type Env struct {
	Store       repo.Store
	Definitions *registry.Registry
	Service     *engine.Service
	Executor    *engine.Executor

	closeFn func()
}

// NewEnv собирает Env по конфигурации.
//
// Отсутствующий каталог определений не считается ошибкой:
// команды instance show/list работают и без него.
func NewEnv(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Env, error) {
	store, closeStore, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, err
	}

	defs := registry.New()
	if cfg.DefinitionsDir != "" {
		loaded, err := defs.LoadDir(cfg.DefinitionsDir)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Debug("definitions directory not found", "dir", cfg.DefinitionsDir)
		case err != nil:
			closeStore()
			return nil, fmt.Errorf("load definitions: %w", err)
		default:
			logger.Debug("definitions loaded", "dir", cfg.DefinitionsDir, "count", len(loaded))
		}
	}

	env := NewEnvWith(store, defs, engine.Config{
		Actions:          actions.DefaultRegistry(),
		MaxStepsPerCycle: cfg.MaxStepsPerCycle,
		ClaimTimeout:     cfg.ClaimTimeout,
		Logger:           logger,
	})
	env.closeFn = closeStore
	return env, nil
}

// NewEnvWith собирает Env из готовых хранилища и реестра.
// Store и Definitions в base заменяются переданными.
func NewEnvWith(store repo.Store, defs *registry.Registry, base engine.Config) *Env {
	base.Store = store
	base.Definitions = defs
	if base.Conditions == nil {
		if r, ok := base.Actions.(engine.ConditionResolver); ok {
			base.Conditions = r
		}
	}
	if base.Events == nil {
		base.Events = engine.LogSink{Logger: base.Logger}
	}

	executor := engine.NewExecutor(base)
	service := engine.NewService(engine.ServiceConfig{
		Store:       store,
		Definitions: defs,
		Executor:    executor,
		Events:      base.Events,
		Clock:       base.Clock,
		Logger:      base.Logger,
	})

	return &Env{Store: store, Definitions: defs, Service: service, Executor: executor, closeFn: func() {}}
}

// Close освобождает хранилище.
func (e *Env) Close() {
	if e.closeFn != nil {
		e.closeFn()
	}
}

// UserMessage превращает ошибку в сообщение для пользователя.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, engine.ErrInstanceNotFound):
		return "instance not found"
	case errors.Is(err, registry.ErrDefinitionNotFound):
		return "definition not found"
	case errors.Is(err, engine.ErrInvalidState), errors.Is(err, domain.ErrInvalidTransition):
		return fmt.Sprintf("operation not allowed: %v", err)
	default:
		return err.Error()
	}
}
