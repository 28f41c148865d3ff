// Package worker продвигает готовые к обработке экземпляры workflow.
//
// # Обзор
//
// Worker: stateless процесс, который:
//
//   - периодически выбирает готовые экземпляры (repo.Store.FindDueForProcessing);
//   - получает пробуждения из очереди instances.ready (RabbitMQ, опционально);
//   - вызывает engine.Executor.Proceed для каждого экземпляра
//     с ограниченным параллелизмом (errgroup).
//
// Несколько воркеров могут работать с одним хранилищем: внутри процесса
// экземпляр не обрабатывается дважды одновременно, между процессами
// гонку разрешает версия экземпляра (repo.ErrConflict). Проигравший
// воркер просто отбрасывает свой цикл.
//
// # Использование
//
//	w := worker.New(worker.Config{
//	    Store:       store,
//	    Executor:    executor,
//	    Conn:        mqConn, // nil: только polling
//	    Concurrency: 8,
//	    Logger:      logger,
//	})
//	if err := w.Start(ctx); err != nil { ... }
//	defer w.Stop()
package worker
