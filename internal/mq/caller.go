package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Anomalix/internal/domain"
	"github.com/shaiso/Anomalix/internal/telemetry"
)

// ReplyMode — как Caller получает ответы.
type ReplyMode string

const (
	// ReplyModeExclusive — на каждый запрос своя server-named очередь
	// (exclusive, auto-delete). Запросы выполняются параллельно.
	ReplyModeExclusive ReplyMode = "exclusive"

	// ReplyModeShared — общая именованная очередь ответов. Одновременно
	// ждёт только один запрос, иначе ждущие забирали бы чужие ответы.
	ReplyModeShared ReplyMode = "shared"
)

// DefaultCallTimeout — сколько Caller ждёт ответ по умолчанию.
const DefaultCallTimeout = 30 * time.Second

// CallerConfig — конфигурация Caller.
type CallerConfig struct {
	// WorkQueue — очередь воркеров.
	WorkQueue string

	// ReplyQueue — общая очередь ответов (только для ReplyModeShared).
	ReplyQueue string

	// Mode — режим очереди ответов (default: exclusive).
	Mode ReplyMode

	// Timeout — ожидание ответа (default: 30s).
	Timeout time.Duration
}

// Caller превращает публикацию в очередь и ожидание ответа в один
// блокирующий вызов.
type Caller struct {
	opener ChannelOpener
	cfg    CallerConfig
	logger *slog.Logger

	sharedMu sync.Mutex
}

// NewCaller создаёт Caller.
func NewCaller(opener ChannelOpener, cfg CallerConfig, logger *slog.Logger) *Caller {
	if cfg.Mode == "" {
		cfg.Mode = ReplyModeExclusive
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Caller{
		opener: opener,
		cfg:    cfg,
		logger: logger,
	}
}

// Call публикует событие и ждёт ответ воркера.
//
// Ошибки: ErrPublish — запрос не ушёл; ErrResponseTimeout — ответ не пришёл.
func (c *Caller) Call(ctx context.Context, event domain.Event) (*domain.Response, error) {
	start := time.Now()

	resp, err := c.call(ctx, event)

	telemetry.RPCDuration.WithLabelValues(callOutcome(err)).Observe(time.Since(start).Seconds())
	return resp, err
}

func (c *Caller) call(ctx context.Context, event domain.Event) (*domain.Response, error) {
	if c.cfg.Mode == ReplyModeShared {
		c.sharedMu.Lock()
		defer c.sharedMu.Unlock()
	}

	// Отдельный канал на запрос: consume/cancel разных запросов не пересекаются
	ch, err := c.opener.OpenChannel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}
	defer func() {
		if err := ch.Close(); err != nil {
			c.logger.Debug("close request channel", "error", err)
		}
	}()

	replyQueue := c.cfg.ReplyQueue
	if c.cfg.Mode != ReplyModeShared {
		q, err := ch.QueueDeclare(
			"",    // имя выдаст брокер
			false, // durable
			true,  // delete when unused
			true,  // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return nil, fmt.Errorf("%w: declare reply queue: %w", ErrPublish, err)
		}
		replyQueue = q.Name
	}

	token, err := PublishEvent(ctx, ch, event, c.cfg.WorkQueue, replyQueue)
	if err != nil {
		return nil, err
	}

	logger := telemetry.WithCorrelationToken(telemetry.WithEventID(c.logger, event.EventID), token).
		With("reply_queue", replyQueue)
	logger.Debug("event published, awaiting response")

	resp, err := AwaitResponse(telemetry.WithLogger(ctx, logger), ch, replyQueue, token, c.cfg.Timeout)
	if err != nil {
		logger.Warn("no response", "error", err)
		return nil, err
	}

	logger.Debug("response received", "status_code", resp.StatusCode)
	return resp, nil
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrResponseTimeout):
		return "timeout"
	case errors.Is(err, ErrPublish):
		return "publish_error"
	default:
		return "error"
	}
}
