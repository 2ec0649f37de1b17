// Anomalix Worker — оценивает события из рабочей очереди.
//
// Worker:
//   - Получает события из RabbitMQ
//   - Проверяет, не обработан ли EventID (PostgreSQL)
//   - Оценивает событие и сохраняет аномалию
//   - Отправляет ответ в очередь ответов и подтверждает сообщение
//
// Workers масштабируются горизонтально (competing consumers).
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Anomalix/internal/config"
	"github.com/shaiso/Anomalix/internal/mq"
	"github.com/shaiso/Anomalix/internal/notify"
	"github.com/shaiso/Anomalix/internal/repo"
	"github.com/shaiso/Anomalix/internal/telemetry"
	"github.com/shaiso/Anomalix/internal/worker"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("anomalix-worker")
	logger.Info("starting anomalix-worker")

	cfg, err := config.Load("")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	scorer, err := worker.NewRegistry().Get(cfg.Anomaly.Scorer)
	if err != nil {
		logger.Error("unknown scorer", "scorer", cfg.Anomaly.Scorer, "error", err)
		return err
	}

	// Схема и DB pool
	if err := repo.Migrate(cfg.DatabaseURL); err != nil {
		logger.Error("failed to migrate database", "error", err)
		return err
	}
	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return err
	}
	defer pool.Close()
	logger.Info("database connected")

	// Счётчик повторов: Redis, если задан, иначе в памяти
	var tracker mq.RedeliveryTracker = mq.NewMemoryTracker()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable, counting redeliveries anyway", "error", err)
		}
		tracker = mq.NewRedisTracker(rdb, mq.DefaultRedeliveryTTL)
		logger.Info("redelivery tracker: redis")
	}

	// Уведомления об аномалиях: NATS, если задан
	var notifier worker.Notifier = notify.Noop{}
	if cfg.NATSURL != "" {
		nn, err := notify.NewNATSNotifier(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("NATS not available, notifications disabled", "error", err)
		} else {
			defer nn.Close()
			notifier = nn
			logger.Info("NATS notifier connected")
		}
	}

	// RabbitMQ: ждём брокер, пока не придёт сигнал
	mqConn, err := mq.NewConnection(ctx, mq.ConnectionConfig{
		URL:        cfg.RabbitMQ.BrokerURL(),
		RetryDelay: cfg.RabbitMQ.RetryDelay,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		return err
	}
	defer mqConn.Close()

	topology := cfg.RabbitMQ.Topology()
	if err := mq.SetupTopology(ctx, mqConn, topology); err != nil {
		logger.Error("failed to setup topology", "error", err)
		return err
	}
	logger.Info("RabbitMQ connected", "topology", topology.Info())

	w := worker.New(worker.Config{
		Store:           repo.NewAnomalyRepo(pool),
		Scorer:          scorer,
		Notifier:        notifier,
		Conn:            mqConn,
		Queue:           topology.WorkQueue,
		Tracker:         tracker,
		MaxRedeliveries: cfg.Worker.MaxRedeliveries,
		Threshold:       cfg.Anomaly.Threshold,
		CallTimeout:     cfg.Worker.CallTimeout,
		Logger:          logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		return err
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		if w.IsStopped() || !mqConn.IsConnected() {
			rw.WriteHeader(http.StatusServiceUnavailable)
			rw.Write([]byte("not ready"))
			return
		}
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Worker.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения или фатальную ошибку consumer'а
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-w.Errors():
		logger.Error("worker stopped on fatal error", "error", runErr)
	}

	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("anomalix-worker stopped")
	return runErr
}
