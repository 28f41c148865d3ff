// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go: управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go  : объявление exchanges, queues, bindings
//   - publisher.go : публикация сообщений
//   - consumer.go  : потребление сообщений из очередей
//   - events.go    : приёмник событий движка, публикующий их в RabbitMQ
//
// Типы сообщений:
//   - instance.ready : экземпляр готов к обработке (например, получил сигнал)
//   - workflow.event : событие жизненного цикла экземпляра
//
// Exchanges:
//   - flowy.events    : события жизненного цикла (topic, routing key = тип события)
//   - flowy.instances : пробуждение воркеров
//   - flowy.dlq       : dead letter queue
//
// RabbitMQ не обязателен: без него воркер находит готовые экземпляры
// опросом хранилища, сообщения лишь сокращают задержку.
package mq
