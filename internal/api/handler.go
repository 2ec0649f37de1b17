package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/Anomalix/internal/domain"
)

// Caller — RPC до воркера (mq.Caller).
type Caller interface {
	Call(ctx context.Context, event domain.Event) (*domain.Response, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	caller Caller
	ready  func() bool
	logger *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	// Caller — публикация события и ожидание ответа воркера.
	Caller Caller

	// Ready — опционально, готовность к приёму запросов (соединение с брокером).
	Ready func() bool

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ready := cfg.Ready
	if ready == nil {
		ready = func() bool { return true }
	}

	return &Handler{
		caller: cfg.Caller,
		ready:  ready,
		logger: logger,
	}
}
