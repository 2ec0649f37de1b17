package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Anomalix/internal/domain"
)

// Respond публикует ответ в очередь replyTo с тем же correlation id,
// с которым пришёл запрос.
//
// Ошибка публикации возвращается как есть: вызывающий решает, что она фатальна.
func Respond(ctx context.Context, ch Channel, replyTo, token string, resp domain.Response) error {
	if replyTo == "" {
		return fmt.Errorf("respond: empty reply address")
	}

	body, err := EncodeResponse(resp)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(
		ctx,
		"",      // default exchange
		replyTo, // routing key = очередь ответов
		false,
		false,
		amqp.Publishing{
			ContentType:   contentTypeJSON,
			CorrelationId: token,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish reply to %s: %w", replyTo, err)
	}

	return nil
}
