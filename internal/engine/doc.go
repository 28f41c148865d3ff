// Package engine: движок выполнения экземпляров workflow.
//
// Включает:
//   - executor.go: Executor.Proceed: один цикл выполнения экземпляра
//   - service.go : операции жизненного цикла (start, pause, resume, cancel, signal, retry)
//   - events.go  : события жизненного цикла и приёмники (EventSink)
//   - resolver.go: контракты разрешения действий и условий
//
// Executor синхронный и не держит блокировок: параллелизм обеспечивает
// воркер, а гонки между процессами разрешает версия экземпляра в хранилище.
package engine
