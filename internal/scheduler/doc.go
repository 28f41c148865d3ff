// Package scheduler реализует восстановление упавших экземпляров.
//
// Sweeper по cron-расписанию выбирает FAILED экземпляры, которые ещё
// можно повторить (repo.Store.FindFailed), публикует их число в метрике
// и, если включено, повторяет упавший шаг через engine.Service.RetryFailedStep.
//
// Структура:
//   - scheduler.go: Sweeper (Tick, Start, Stop)
//   - cron.go     : разбор расписаний
//
// Использование:
//
//	sweeper, err := scheduler.New(scheduler.Config{
//	    Store:     store,
//	    Retrier:   service,
//	    Schedule:  "@every 1m",
//	    AutoRetry: true,
//	    Logger:    logger,
//	})
//	if err := sweeper.Start(ctx); err != nil { ... }
//	defer sweeper.Stop()
//
// Несколько sweeper'ов на одном хранилище безопасны: повтор идёт через
// сохранение с проверкой версии, проигравший получает конфликт.
package scheduler
