package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Anomalix/internal/domain"
	"github.com/shaiso/Anomalix/internal/telemetry"
)

const defaultMaxRedeliveries = 5

// Envelope — транспортные атрибуты запроса и его тело.
type Envelope struct {
	// CorrelationToken — correlation id, который нужно вернуть в ответе.
	CorrelationToken string

	// ReplyTo — очередь, куда отправить ответ.
	ReplyTo string

	// MessageID — идентификатор сообщения (ключ счётчика повторов).
	MessageID string

	// Redelivered — брокер уже доставлял это сообщение.
	Redelivered bool

	// Body — JSON события.
	Body []byte
}

// EnvelopeFrom извлекает конверт из AMQP сообщения.
func EnvelopeFrom(raw amqp.Delivery) Envelope {
	return Envelope{
		CorrelationToken: raw.CorrelationId,
		ReplyTo:          raw.ReplyTo,
		MessageID:        raw.MessageId,
		Redelivered:      raw.Redelivered,
		Body:             raw.Body,
	}
}

// trackingKey — ключ счётчика повторов.
func (e Envelope) trackingKey() string {
	if e.MessageID != "" {
		return e.MessageID
	}
	return e.CorrelationToken
}

// Handler — функция обработки сообщения.
//
// nil — сообщение обработано и подтверждается.
// ErrFatal (через errors.Is) — consumer останавливается.
// Любая другая ошибка — повтор или dead-letter по счётчику.
type Handler func(ctx context.Context, d *Delivery) error

// DeadLetterHook вызывается перед отправкой сообщения в DLQ.
// Ошибка считается фатальной.
type DeadLetterHook func(ctx context.Context, d *Delivery, cause error) error

// Delivery — доставленное сообщение с методами ack/nack/reply.
type Delivery struct {
	// Envelope — транспортные атрибуты и тело.
	Envelope Envelope

	// Raw — сырое AMQP сообщение.
	Raw amqp.Delivery

	ch Channel
}

// NewDelivery связывает сообщение с каналом, через который уйдёт ответ.
func NewDelivery(ch Channel, raw amqp.Delivery) *Delivery {
	return &Delivery{
		Envelope: EnvelopeFrom(raw),
		Raw:      raw,
		ch:       ch,
	}
}

// Ack подтверждает успешную обработку сообщения.
func (d *Delivery) Ack() error {
	return d.Raw.Ack(false)
}

// Nack отклоняет сообщение.
// requeue=true — вернуть в очередь, false — отправить в DLQ.
func (d *Delivery) Nack(requeue bool) error {
	return d.Raw.Nack(false, requeue)
}

// Reply отправляет ответ отправителю запроса.
func (d *Delivery) Reply(ctx context.Context, resp domain.Response) error {
	return Respond(ctx, d.ch, d.Envelope.ReplyTo, d.Envelope.CorrelationToken, resp)
}

// Consumer потребляет сообщения из очереди RabbitMQ.
type Consumer struct {
	conn            ChannelProvider
	logger          *slog.Logger
	queue           string
	handler         Handler
	prefetch        int
	tracker         RedeliveryTracker
	maxRedeliveries int
	onDeadLetter    DeadLetterHook

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — количество сообщений для предварительной загрузки.
	Prefetch int

	// Tracker — счётчик повторов (default: MemoryTracker).
	Tracker RedeliveryTracker

	// MaxRedeliveries — сколько раз вернуть сообщение в очередь,
	// прежде чем отправить в DLQ (default: 5).
	MaxRedeliveries int

	// OnDeadLetter — опционально, вызывается перед отправкой в DLQ.
	OnDeadLetter DeadLetterHook
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn ChannelProvider, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	maxRedeliveries := cfg.MaxRedeliveries
	if maxRedeliveries <= 0 {
		maxRedeliveries = defaultMaxRedeliveries
	}

	tracker := cfg.Tracker
	if tracker == nil {
		tracker = NewMemoryTracker()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:            conn,
		logger:          logger,
		queue:           cfg.Queue,
		handler:         cfg.Handler,
		prefetch:        prefetch,
		tracker:         tracker,
		maxRedeliveries: maxRedeliveries,
		onDeadLetter:    cfg.OnDeadLetter,
	}
}

// Start запускает потребление сообщений и блокируется до отмены ctx
// или фатальной ошибки.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer cancel()

	return c.consume(ctx)
}

// consume — основной цикл потребления.
func (c *Consumer) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Получаем канал доставки
		ch, deliveries, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "queue", c.queue, "error", err)
			// Ждём переподключения
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				c.logger.Info("reconnected, restarting consumer", "queue", c.queue)
				continue
			}
		}

		c.logger.Info("consumer started", "queue", c.queue)

		// Обрабатываем сообщения
		if err := c.processDeliveries(ctx, ch, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrFatal) {
				return err
			}
			c.logger.Warn("deliveries channel closed, reconnecting", "queue", c.queue)
			// Канал закрыт, ждём переподключения
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				continue
			}
		}
	}
}

// setupConsume настраивает канал и начинает потребление.
func (c *Consumer) setupConsume() (Channel, <-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, nil, ErrNotConnected
	}

	// Устанавливаем prefetch
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}

	// Начинаем потребление
	deliveries, err := ch.Consume(
		c.queue, // queue
		"",      // consumer tag (auto-generated)
		false,   // auto-ack (мы ack вручную)
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return nil, nil, fmt.Errorf("consume: %w", err)
	}

	return ch, deliveries, nil
}

// processDeliveries обрабатывает сообщения из канала.
func (c *Consumer) processDeliveries(ctx context.Context, ch Channel, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}

			if err := c.handleDelivery(ctx, ch, raw); err != nil {
				return err
			}
		}
	}
}

// handleDelivery обрабатывает одно сообщение. Возвращает только фатальные ошибки.
func (c *Consumer) handleDelivery(ctx context.Context, ch Channel, raw amqp.Delivery) error {
	d := NewDelivery(ch, raw)
	env := d.Envelope

	logger := c.logger.With(
		"queue", c.queue,
		"message_id", env.MessageID,
		"correlation_id", env.CorrelationToken,
	)

	// Без адреса ответа никто не дождётся результата
	if env.ReplyTo == "" || env.CorrelationToken == "" {
		logger.Error("message has no reply address, dead-lettering")
		telemetry.MessagesDeadLettered.Inc()
		if err := d.Nack(false); err != nil {
			logger.Warn("nack failed", "error", err)
		}
		return nil
	}

	logger.Debug("received message", "redelivered", env.Redelivered)

	err := c.handler(telemetry.WithLogger(ctx, logger), d)
	switch {
	case err == nil:
		if env.Redelivered {
			c.resetAttempts(ctx, env, logger)
		}
		if ackErr := d.Ack(); ackErr != nil {
			logger.Warn("ack failed", "error", ackErr)
		}
		return nil

	case errors.Is(err, ErrFatal):
		logger.Error("fatal handler error, stopping consumer", "error", err)
		// Сообщение вернётся в очередь и достанется другому воркеру
		if nackErr := d.Nack(true); nackErr != nil {
			logger.Warn("nack failed", "error", nackErr)
		}
		return err

	default:
		return c.reject(ctx, d, err, logger)
	}
}

// reject возвращает сообщение в очередь или, если лимит повторов исчерпан,
// отправляет его в DLQ.
func (c *Consumer) reject(ctx context.Context, d *Delivery, cause error, logger *slog.Logger) error {
	attempts, err := c.tracker.Increment(ctx, d.Envelope.trackingKey())
	if err != nil {
		// Без счётчика лимит не проверить — просто возвращаем в очередь
		logger.Warn("redelivery tracker unavailable, requeueing", "error", err, "cause", cause)
		telemetry.MessagesRequeued.Inc()
		if nackErr := d.Nack(true); nackErr != nil {
			logger.Warn("nack failed", "error", nackErr)
		}
		return nil
	}

	if attempts <= c.maxRedeliveries {
		logger.Warn("handler failed, requeueing",
			"attempt", attempts,
			"max_redeliveries", c.maxRedeliveries,
			"error", cause,
		)
		telemetry.MessagesRequeued.Inc()
		if nackErr := d.Nack(true); nackErr != nil {
			logger.Warn("nack failed", "error", nackErr)
		}
		return nil
	}

	logger.Error("redelivery limit reached, dead-lettering",
		"attempts", attempts,
		"error", cause,
	)

	if c.onDeadLetter != nil {
		if err := c.onDeadLetter(ctx, d, cause); err != nil {
			if nackErr := d.Nack(true); nackErr != nil {
				logger.Warn("nack failed", "error", nackErr)
			}
			return fmt.Errorf("%w: dead-letter hook: %w", ErrFatal, err)
		}
	}

	c.resetAttempts(ctx, d.Envelope, logger)
	telemetry.MessagesDeadLettered.Inc()
	if nackErr := d.Nack(false); nackErr != nil {
		logger.Warn("nack failed", "error", nackErr)
	}
	return nil
}

func (c *Consumer) resetAttempts(ctx context.Context, env Envelope, logger *slog.Logger) {
	if err := c.tracker.Reset(ctx, env.trackingKey()); err != nil {
		logger.Warn("failed to reset redelivery counter", "error", err)
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}
