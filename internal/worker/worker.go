package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Flowy/internal/domain"
	"github.com/shaiso/Flowy/internal/engine"
	"github.com/shaiso/Flowy/internal/mq"
	"github.com/shaiso/Flowy/internal/repo"
	"github.com/shaiso/Flowy/internal/telemetry"
)

// Default configuration values.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultBatchSize    = 50
	DefaultConcurrency  = 4
	defaultPrefetch     = 10
)

// DueSource возвращает готовые к обработке экземпляры.
// Реализуется repo.Store.
type DueSource interface {
	FindDueForProcessing(ctx context.Context, limit int) ([]*domain.WorkflowInstance, error)
}

// Processor выполняет один цикл экземпляра.
// Реализуется *engine.Executor.
type Processor interface {
	Proceed(ctx context.Context, id uuid.UUID) (engine.Outcome, error)
}

// Worker опрашивает хранилище и продвигает готовые экземпляры.
type Worker struct {
	store    DueSource
	executor Processor
	conn     *mq.Connection
	metrics  *telemetry.Metrics

	pollInterval time.Duration
	batchSize    int
	concurrency  int

	// inFlight: экземпляры, которые сейчас обрабатывает этот процесс
	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}

	consumer *mq.Consumer

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config: конфигурация Worker.
type Config struct {
	Store    DueSource
	Executor Processor

	// Conn: соединение с RabbitMQ для пробуждений (опционально).
	Conn *mq.Connection

	// Metrics: метрики циклов (опционально).
	Metrics *telemetry.Metrics

	PollInterval time.Duration // интервал polling (default: 5s)
	BatchSize    int           // экземпляров за один poll (default: 50)
	Concurrency  int           // одновременных Proceed (default: 4)

	Logger *slog.Logger
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	w := &Worker{
		store:        cfg.Store,
		executor:     cfg.Executor,
		conn:         cfg.Conn,
		metrics:      cfg.Metrics,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		concurrency:  cfg.Concurrency,
		inFlight:     make(map[uuid.UUID]struct{}),
		logger:       cfg.Logger,
	}

	if w.pollInterval <= 0 {
		w.pollInterval = DefaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = DefaultBatchSize
	}
	if w.concurrency <= 0 {
		w.concurrency = DefaultConcurrency
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = telemetry.WithComponent(w.logger, "worker")

	return w
}

// Start запускает polling и, если задано соединение, consumer instances.ready.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"concurrency", w.concurrency,
		"amqp", w.conn != nil,
	)

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    mq.QueueInstancesReady,
			Handler:  mq.ReadyHandler(w.Process),
			Prefetch: defaultPrefetch,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("instance consumer error", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения текущих циклов.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop: цикл polling.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем экземпляры, готовые пока воркер был выключен)
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Worker) poll(ctx context.Context) {
	if _, err := w.ProcessDue(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("failed to process due instances", "error", err)
	}
}

// ProcessDue обрабатывает одну партию готовых экземпляров и возвращает её размер.
//
// Ошибки отдельных экземпляров логируются и не прерывают партию.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	due, err := w.store.FindDueForProcessing(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	w.logger.Debug("poll found due instances", "count", len(due))

	var g errgroup.Group
	g.SetLimit(w.concurrency)

	for _, inst := range due {
		id := inst.ID
		g.Go(func() error {
			if err := w.Process(ctx, id); err != nil && ctx.Err() == nil {
				w.logger.Error("failed to process instance from poll", "instance_id", id, "error", err)
			}
			return nil
		})
	}

	return len(due), g.Wait()
}

// Process выполняет цикл экземпляра id.
//
// Экземпляр, который этот процесс уже обрабатывает, пропускается.
// Возвращается только ошибка, после которой имеет смысл повторить
// попытку (например, недоступно хранилище); результат цикла, конфликт
// с другим воркером и исчезнувший экземпляр ошибкой не считаются.
func (w *Worker) Process(ctx context.Context, id uuid.UUID) error {
	if !w.acquire(id) {
		w.logger.Debug("instance already in flight", "instance_id", id)
		return nil
	}
	defer w.release(id)

	start := time.Now()
	outcome, err := w.executor.Proceed(ctx, id)
	if outcome != "" {
		w.metrics.ObserveCycle(string(outcome), time.Since(start))
	}

	var actionErr *engine.ActionError
	switch {
	case err == nil:
		w.logger.Debug("instance processed", "instance_id", id, "outcome", outcome)
		return nil
	case errors.Is(err, repo.ErrConflict):
		w.logger.Debug("instance processed by another worker", "instance_id", id)
		return nil
	case errors.Is(err, engine.ErrInstanceNotFound):
		w.logger.Debug("instance disappeared", "instance_id", id)
		return nil
	case errors.As(err, &actionErr), outcome == engine.OutcomeFailed:
		// Экземпляр уже в FAILED, executor залогировал причину
		return nil
	default:
		return err
	}
}

func (w *Worker) acquire(id uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, busy := w.inFlight[id]; busy {
		return false
	}
	w.inFlight[id] = struct{}{}
	if w.metrics != nil {
		w.metrics.InFlight.Inc()
	}
	return true
}

func (w *Worker) release(id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.inFlight, id)
	if w.metrics != nil {
		w.metrics.InFlight.Dec()
	}
}
