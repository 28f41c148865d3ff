// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go: structured logging через slog
//   - metrics.go: Prometheus метрики
//
// Все процессы используют единый формат логирования,
// воркер экспортирует метрики на /metrics endpoint.
package telemetry
