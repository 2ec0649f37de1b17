package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Имена по умолчанию.
const (
	DefaultWorkQueue          = "anomaly_events"
	DefaultReplyQueue         = "anomaly_responses"
	DefaultDeadLetterExchange = "anomalix.dlx"
	DefaultDeadLetterQueue    = "anomaly_events.dlq"
)

// Topology — набор очередей, которые должны существовать до публикации.
type Topology struct {
	// WorkQueue — очередь задач для воркеров.
	WorkQueue string

	// ReplyQueue — общая очередь ответов (режим shared).
	// Пустое имя — не объявлять.
	ReplyQueue string

	// DeadLetterExchange — куда брокер отправляет отклонённые сообщения.
	DeadLetterExchange string

	// DeadLetterQueue — очередь для ручного разбора.
	DeadLetterQueue string
}

// DefaultTopology возвращает топологию с именами по умолчанию.
func DefaultTopology() Topology {
	return Topology{
		WorkQueue:          DefaultWorkQueue,
		ReplyQueue:         DefaultReplyQueue,
		DeadLetterExchange: DefaultDeadLetterExchange,
		DeadLetterQueue:    DefaultDeadLetterQueue,
	}
}

// SetupTopology объявляет топологию на общем канале соединения.
func SetupTopology(ctx context.Context, conn *Connection, t Topology) error {
	return conn.WithChannel(ctx, func(ch Channel) error {
		return DeclareTopology(ch, t)
	})
}

// DeclareTopology объявляет exchange и очереди. Повторный вызов безопасен.
func DeclareTopology(ch Channel, t Topology) error {
	if t.WorkQueue == "" {
		return fmt.Errorf("declare topology: empty work queue name")
	}

	// 1. Dead-letter exchange и очередь
	var workArgs amqp.Table
	if t.DeadLetterExchange != "" && t.DeadLetterQueue != "" {
		err := ch.ExchangeDeclare(
			t.DeadLetterExchange, // name
			"direct",             // type
			true,                 // durable
			false,                // auto-deleted
			false,                // internal
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", t.DeadLetterExchange, err)
		}

		if err := declareQueue(ch, t.DeadLetterQueue, true, nil); err != nil {
			return err
		}

		if err := ch.QueueBind(t.DeadLetterQueue, t.DeadLetterQueue, t.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", t.DeadLetterQueue, t.DeadLetterExchange, err)
		}

		workArgs = amqp.Table{
			"x-dead-letter-exchange":    t.DeadLetterExchange,
			"x-dead-letter-routing-key": t.DeadLetterQueue,
		}
	}

	// 2. Рабочая очередь — durable, отклонённые сообщения уходят в DLQ
	if err := declareQueue(ch, t.WorkQueue, true, workArgs); err != nil {
		return err
	}

	// 3. Общая очередь ответов — ответы живут секунды, durable не нужен
	if t.ReplyQueue != "" {
		if err := declareQueue(ch, t.ReplyQueue, false, nil); err != nil {
			return err
		}
	}

	return nil
}

func declareQueue(ch Channel, name string, durable bool, args amqp.Table) error {
	_, err := ch.QueueDeclare(
		name,    // name
		durable, // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		args,    // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

// Info возвращает описание топологии для логирования.
func (t Topology) Info() string {
	return fmt.Sprintf(`
  Anomalix RabbitMQ Topology:

    (default exchange)
    ├── %s [durable, dlx: %s]
    │       Consumer: anomalix-worker
    └── %s
            Consumer: anomalix-api (shared reply mode)

    %s (direct)
    └── %s [routing: %s]
            Manual processing
`, t.WorkQueue, t.DeadLetterExchange, t.ReplyQueue, t.DeadLetterExchange, t.DeadLetterQueue, t.DeadLetterQueue)
}
