// Flowy Worker: продвигает экземпляры workflow.
//
// Worker:
//   - Загружает определения из DEFINITIONS_DIR
//   - Опрашивает хранилище и выполняет циклы готовых экземпляров
//   - Просыпается по сообщениям instance.ready из RabbitMQ (если задан RABBITMQ_URL)
//   - Публикует события жизненного цикла в обменник flowy.events
//   - По расписанию SWEEP_SCHEDULE находит FAILED экземпляры
//
// Workers масштабируются горизонтально: хранилище разрешает гонки
// через оптимистическую блокировку.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/Flowy/internal/actions"
	"github.com/shaiso/Flowy/internal/config"
	"github.com/shaiso/Flowy/internal/engine"
	"github.com/shaiso/Flowy/internal/loader"
	"github.com/shaiso/Flowy/internal/mq"
	"github.com/shaiso/Flowy/internal/registry"
	"github.com/shaiso/Flowy/internal/scheduler"
	"github.com/shaiso/Flowy/internal/telemetry"
	"github.com/shaiso/Flowy/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("FLOWY_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting flowy-worker", "store", cfg.StoreDriver)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("flowy-worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("flowy-worker stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, closeStore, err := cfg.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("store opened", "driver", cfg.StoreDriver)

	// Определения
	defs := registry.New()
	loaded, err := defs.LoadDir(cfg.DefinitionsDir)
	if err != nil {
		return err
	}
	for _, def := range loaded {
		report := loader.Analyze(def)
		attrs := []any{
			"definition_id", def.ID,
			"version", def.Version,
			"steps", len(def.Steps),
			"event_steps", report.EventSteps,
		}
		if len(report.Unreachable) > 0 {
			logger.Warn("definition has unreachable steps", append(attrs, "unreachable", report.Unreachable)...)
			continue
		}
		logger.Info("definition loaded", attrs...)
	}

	metrics := telemetry.NewMetrics()
	sinks := engine.MultiSink{
		engine.LogSink{Logger: logger},
		engine.MetricsSink{Metrics: metrics},
	}

	// RabbitMQ
	var mqConn *mq.Connection
	if cfg.AMQPEnabled() {
		mqConn, err = mq.NewConnection(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			sinks = append(sinks, mq.NewEventPublisher(mq.NewPublisher(mqConn, logger), logger))
		}
	}

	resolver := actions.DefaultRegistry()
	executor := engine.NewExecutor(engine.Config{
		Store:            store,
		Definitions:      defs,
		Actions:          resolver,
		Conditions:       resolver,
		Events:           sinks,
		MaxStepsPerCycle: cfg.MaxStepsPerCycle,
		ClaimTimeout:     cfg.ClaimTimeout,
		Logger:           logger,
	})
	service := engine.NewService(engine.ServiceConfig{
		Store:       store,
		Definitions: defs,
		Executor:    executor,
		Events:      sinks,
		Logger:      logger,
	})

	w := worker.New(worker.Config{
		Store:        store,
		Executor:     executor,
		Conn:         mqConn,
		Metrics:      metrics,
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		Concurrency:  cfg.Concurrency,
		Logger:       logger,
	})
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	sweeper, err := scheduler.New(scheduler.Config{
		Store:       store,
		Retrier:     service,
		Metrics:     metrics,
		Logger:      logger,
		Schedule:    cfg.SweepSchedule,
		AutoRetry:   cfg.SweepAutoRetry,
		MaxAttempts: cfg.SweepMaxAttempts,
		BatchSize:   cfg.BatchSize,
	})
	if err != nil {
		return err
	}
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		if w.IsStopped() {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("listening", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
