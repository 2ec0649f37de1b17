package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Anomalix/internal/domain"
)

// NewCorrelationToken создаёт новый correlation id (UUIDv4).
// Токены не переиспользуются: один токен — один запрос.
func NewCorrelationToken() string {
	return uuid.NewString()
}

// PublishEvent публикует событие в рабочую очередь и возвращает
// correlation id, по которому нужно ждать ответ в replyQueue.
//
// Ответ не ждёт — это делает AwaitResponse.
func PublishEvent(ctx context.Context, ch Channel, event domain.Event, workQueue, replyQueue string) (string, error) {
	if replyQueue == "" {
		return "", fmt.Errorf("%w: empty reply queue", ErrPublish)
	}

	body, err := EncodeEvent(event)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPublish, err)
	}

	token := NewCorrelationToken()

	err = ch.PublishWithContext(
		ctx,
		"",        // default exchange
		workQueue, // routing key = имя очереди
		false,
		false,
		amqp.Publishing{
			ContentType:   contentTypeJSON,
			DeliveryMode:  amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
			CorrelationId: token,
			ReplyTo:       replyQueue,
			MessageId:     token,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err != nil {
		return "", fmt.Errorf("%w: publish to %s: %w", ErrPublish, workQueue, err)
	}

	return token, nil
}
