package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel — методы *amqp.Channel, которые использует пакет.
//
// *amqp.Channel удовлетворяет интерфейсу напрямую; в тестах используется
// in-memory брокер из mqtest.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Close() error
}

// ChannelProvider отдаёт общий канал соединения и уведомляет о переподключении.
// Используется Consumer'ом.
type ChannelProvider interface {
	Channel() Channel
	ReconnectNotify() <-chan struct{}
}

// ChannelOpener открывает отдельный канал под один запрос.
// Используется Caller'ом.
type ChannelOpener interface {
	OpenChannel() (Channel, error)
}

var _ Channel = (*amqp.Channel)(nil)
