// Package mq предоставляет RPC поверх RabbitMQ: запрос уходит в рабочую
// очередь, ответ возвращается в очередь ответов с тем же correlation id.
//
// Структура:
//   - connection.go — подключение с ожиданием брокера, reconnect, graceful shutdown
//   - topology.go   — объявление рабочей очереди, очереди ответов и DLQ
//   - publisher.go  — публикация события с correlation id и reply-to
//   - responder.go  — публикация ответа в reply-to
//   - correlator.go — ожидание ответа с нужным correlation id
//   - caller.go     — publish + await одним вызовом, канал на запрос
//   - consumer.go   — потребление рабочей очереди, ack/requeue/dead-letter
//   - redelivery.go — счётчики повторов (память, Redis)
//   - codec.go      — JSON формат сообщений
//
// Поток запроса:
//
//	API: PublishEvent ──► anomaly_events ──► Worker (Consumer)
//	API: AwaitResponse ◄── reply queue ◄──── Worker: Respond
//
// Подтверждение: воркер подтверждает сообщение после отправки ответа.
// Ошибка обработки — requeue, после MaxRedeliveries — DLQ.
package mq
