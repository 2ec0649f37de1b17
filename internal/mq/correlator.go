package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Anomalix/internal/domain"
	"github.com/shaiso/Anomalix/internal/telemetry"
)

// AwaitResponse читает replyQueue, пока не придёт сообщение с correlation id
// равным token, и возвращает его тело.
//
// Сообщения с чужим correlation id подтверждаются и выбрасываются: они
// относятся к другим запросам (как правило, к уже истёкшим). Если timeout > 0,
// ожидание ограничено им; отмена ctx тоже прерывает ожидание. Consumer
// отменяется на любом пути выхода.
func AwaitResponse(ctx context.Context, ch Channel, replyQueue, token string, timeout time.Duration) (*domain.Response, error) {
	logger := telemetry.FromContext(ctx)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	consumerTag := "correlator-" + token

	deliveries, err := ch.Consume(
		replyQueue,  // queue
		consumerTag, // consumer tag
		true,        // auto-ack: чужие ответы не возвращаем в очередь
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", replyQueue, err)
	}
	defer func() {
		if err := ch.Cancel(consumerTag, false); err != nil {
			logger.Debug("cancel correlator consumer", "queue", replyQueue, "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: correlation id %s on %s", ErrResponseTimeout, token, replyQueue)
			}
			return nil, ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				return nil, ErrConsumerClosed
			}

			if d.CorrelationId != token {
				telemetry.RepliesDiscarded.Inc()
				logger.Debug("discarding reply for another request",
					"queue", replyQueue,
					"expected", token,
					"got", d.CorrelationId,
				)
				continue
			}

			resp, err := DecodeResponse(d.Body)
			if err != nil {
				return nil, err
			}
			return &resp, nil
		}
	}
}
