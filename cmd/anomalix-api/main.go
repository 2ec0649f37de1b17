// Anomalix API — HTTP шлюз для оценки событий.
//
// API:
//   - Принимает событие через POST /ingest
//   - Публикует его в рабочую очередь RabbitMQ
//   - Ждёт ответ воркера с тем же correlation id и возвращает его клиенту
//
// Масштабируется горизонтально: у каждого запроса своя очередь ответов.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shaiso/Anomalix/internal/api"
	"github.com/shaiso/Anomalix/internal/config"
	"github.com/shaiso/Anomalix/internal/mq"
	"github.com/shaiso/Anomalix/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("anomalix-api")
	logger.Info("starting anomalix-api")

	cfg, err := config.Load("")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// RabbitMQ: ждём брокер, пока не придёт сигнал
	mqConn, err := mq.NewConnection(ctx, mq.ConnectionConfig{
		URL:        cfg.RabbitMQ.BrokerURL(),
		RetryDelay: cfg.RabbitMQ.RetryDelay,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()

	topology := cfg.RabbitMQ.Topology()
	if err := mq.SetupTopology(ctx, mqConn, topology); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}
	logger.Info("RabbitMQ connected", "topology", topology.Info(), "reply_mode", cfg.RabbitMQ.ReplyMode)

	caller := mq.NewCaller(mqConn, cfg.CallerConfig(), logger)

	handler := api.NewHandler(api.Config{
		Caller: caller,
		Ready:  mqConn.IsConnected,
		Logger: logger,
	})

	addr := ":" + strconv.Itoa(cfg.API.Port)

	// Таймаут записи больше RPC таймаута, иначе 504 не успеет уйти
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.API.RPCTimeout + 10*time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown: даём дождаться ответов запросам в работе
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.RPCTimeout+5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
