package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/Flowy/internal/domain"
	"github.com/shaiso/Flowy/internal/engine"
	"github.com/shaiso/Flowy/internal/repo"
	"github.com/shaiso/Flowy/internal/telemetry"
)

// Default configuration values.
const (
	DefaultBatchSize      = 50
	DefaultMaxAttempts    = 3
	DefaultMaxAutoRetries = 3
)

// FailedFinder выбирает FAILED экземпляры. Реализуется repo.Store.
type FailedFinder interface {
	FindFailed(ctx context.Context, q repo.FailedQuery) ([]*domain.WorkflowInstance, error)
}

// Retrier повторяет упавший шаг. Реализуется *engine.Service.
type Retrier interface {
	RetryFailedStep(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error)
}

// Sweeper периодически находит FAILED экземпляры и при необходимости повторяет их.
type Sweeper struct {
	store   FailedFinder
	retrier Retrier
	metrics *telemetry.Metrics
	logger  *slog.Logger

	schedule       string
	autoRetry      bool
	definitionID   string
	maxAttempts    int
	maxAutoRetries int
	batchSize      int

	mu   sync.Mutex
	cron *cron.Cron
}

// Config: конфигурация Sweeper.
type Config struct {
	Store   FailedFinder
	Retrier Retrier // обязателен при AutoRetry

	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	// Schedule: cron-выражение или дескриптор (default: "@every 1m").
	Schedule string

	// AutoRetry: повторять найденные экземпляры, а не только считать их.
	AutoRetry bool

	// DefinitionID: ограничить поиск одним определением.
	DefinitionID string

	// MaxAttempts: брать экземпляры с RetryAttempts меньше этого (default: 3).
	MaxAttempts int

	// MaxAutoRetries: сколько раз повторять один экземпляр (default: 3).
	// Считаются все вызовы RetryFailedStep, включая ручные.
	MaxAutoRetries int

	// BatchSize: экземпляров за один проход (default: 50).
	BatchSize int
}

// SweepResult: итог одного прохода.
type SweepResult struct {
	Candidates int // найдено FAILED экземпляров
	Retried    int // повторено
	Exhausted  int // пропущено: лимит автоповторов исчерпан
	Errors     int // повтор не удался
}

// New создаёт Sweeper.
func New(cfg Config) (*Sweeper, error) {
	s := &Sweeper{
		store:          cfg.Store,
		retrier:        cfg.Retrier,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		schedule:       cfg.Schedule,
		autoRetry:      cfg.AutoRetry,
		definitionID:   cfg.DefinitionID,
		maxAttempts:    cfg.MaxAttempts,
		maxAutoRetries: cfg.MaxAutoRetries,
		batchSize:      cfg.BatchSize,
	}

	if s.schedule == "" {
		s.schedule = DefaultSchedule
	}
	if err := ValidateSchedule(s.schedule); err != nil {
		return nil, err
	}
	if s.autoRetry && s.retrier == nil {
		return nil, errors.New("auto retry requires a retrier")
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.maxAutoRetries <= 0 {
		s.maxAutoRetries = DefaultMaxAutoRetries
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = telemetry.WithComponent(s.logger, "sweeper")

	return s, nil
}

// Tick выполняет один проход.
//
// 1. Находит FAILED экземпляры с RetryAttempts < MaxAttempts
// 2. Обновляет метрику failed_instances
// 3. Если включён AutoRetry, повторяет каждый, пока не исчерпан MaxAutoRetries
//
// Ошибка одного экземпляра не прерывает проход.
func (s *Sweeper) Tick(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	failed, err := s.store.FindFailed(ctx, repo.FailedQuery{
		DefinitionID:     s.definitionID,
		MaxRetryAttempts: s.maxAttempts,
		Limit:            s.batchSize,
	})
	if err != nil {
		return result, fmt.Errorf("find failed instances: %w", err)
	}

	result.Candidates = len(failed)
	s.metrics.SetFailedInstances(len(failed))

	if !s.autoRetry || len(failed) == 0 {
		s.logger.Debug("sweep completed", "candidates", result.Candidates)
		return result, nil
	}

	for _, inst := range failed {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if n := engine.RetryRequests(inst); n >= s.maxAutoRetries {
			s.logger.Debug("auto retry limit reached, skipping",
				"instance_id", inst.ID,
				"retry_requests", n,
			)
			result.Exhausted++
			continue
		}

		retried, err := s.retrier.RetryFailedStep(ctx, inst.ID)
		if err != nil {
			// Экземпляр мог изменить кто-то другой между поиском и повтором
			if errors.Is(err, engine.ErrInvalidState) || errors.Is(err, repo.ErrConflict) {
				s.logger.Debug("instance changed before retry", "instance_id", inst.ID, "error", err)
				continue
			}
			s.logger.Error("failed to retry instance", "instance_id", inst.ID, "error", err)
			result.Errors++
			continue
		}

		result.Retried++
		s.logger.Info("failed instance retried",
			"instance_id", inst.ID,
			"definition_id", inst.DefinitionID,
			"step_id", inst.CurrentStepID,
			"status", retried.Status,
		)
	}

	s.logger.Info("sweep completed",
		"candidates", result.Candidates,
		"retried", result.Retried,
		"exhausted", result.Exhausted,
		"errors", result.Errors,
	)
	return result, nil
}

// Start запускает проходы по расписанию. Пересекающиеся проходы пропускаются.
// Повторный вызов ничего не делает.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	next, err := NextRun(s.schedule, time.Now())
	if err != nil {
		return err
	}
	c.Start()
	s.cron = c

	s.logger.Info("sweeper started",
		"schedule", s.schedule,
		"auto_retry", s.autoRetry,
		"next_run", next,
	)
	return nil
}

// Stop останавливает расписание и ждёт текущий проход.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("sweeper stopped")
}

// cronLogger направляет журнал cron в slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
