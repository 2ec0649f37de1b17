package mq

import "errors"

// Ошибки транспорта.
var (
	// ErrInvalidURL — адрес брокера пустой или некорректный. Не ретраится.
	ErrInvalidURL = errors.New("invalid broker url")

	// ErrNonRetryable — брокер доступен, но отказал (логин, vhost). Не ретраится.
	ErrNonRetryable = errors.New("non-retryable broker error")

	// ErrNotConnected — соединение ещё не установлено или уже закрыто.
	ErrNotConnected = errors.New("not connected to broker")

	// ErrPublish — не удалось опубликовать запрос в рабочую очередь.
	ErrPublish = errors.New("publish failed")

	// ErrResponseTimeout — ответ с нужным correlation id не пришёл вовремя.
	ErrResponseTimeout = errors.New("timed out waiting for response")

	// ErrConsumerClosed — брокер закрыл канал доставки во время ожидания.
	ErrConsumerClosed = errors.New("consumer closed by broker")

	// ErrFatal — ошибка, после которой consumer не может продолжать работу
	// (например, не удалось отправить ответ в очередь ответов).
	ErrFatal = errors.New("fatal consumer error")
)
