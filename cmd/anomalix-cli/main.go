// Anomalix CLI — отправка событий на оценку и просмотр аномалий.
//
// Использование:
//
//	anomalix [--api-url URL] [--json] <command> [flags]
//
// Команды:
//
//	ingest  Отправить событие через HTTP API
//	send    Отправить событие напрямую в RabbitMQ
//	watch   Поток уведомлений об аномалиях (NATS)
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/Anomalix/internal/cli"
	"github.com/shaiso/Anomalix/internal/config"
	"github.com/shaiso/Anomalix/internal/domain"
	"github.com/shaiso/Anomalix/internal/mq"
	"github.com/shaiso/Anomalix/internal/notify"
	"github.com/shaiso/Anomalix/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var (
		apiURL     string
		jsonOutput bool
		natsURL    string
		verbose    bool
	)

	rootCmd := &cobra.Command{
		Use:           "anomalix",
		Short:         "Anomalix CLI — submit events for anomaly scoring",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats-url", os.Getenv("NATS_URL"), "NATS server URL (watch)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log broker activity to stderr")

	loggerFn := func() *slog.Logger {
		if !verbose {
			return slog.New(slog.NewTextHandler(io.Discard, nil))
		}
		return telemetry.NewLogger(os.Stderr, "text", slog.LevelDebug)
	}
	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	// send: настройки брокера берутся из той же конфигурации, что у API
	senderFn := func(ctx context.Context) (cli.EventSender, func(), error) {
		cfg, err := config.Load("")
		if err != nil {
			return nil, nil, err
		}

		logger := loggerFn()
		conn, err := mq.NewConnection(ctx, mq.ConnectionConfig{
			URL:        cfg.RabbitMQ.BrokerURL(),
			RetryDelay: cfg.RabbitMQ.RetryDelay,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := mq.SetupTopology(ctx, conn, cfg.RabbitMQ.Topology()); err != nil {
			conn.Close()
			return nil, nil, err
		}

		return mq.NewCaller(conn, cfg.CallerConfig(), logger), func() { conn.Close() }, nil
	}

	watchFn := func(ctx context.Context, url string, fn func(*domain.AnomalyRecord)) error {
		return notify.Watch(ctx, url, loggerFn(), fn)
	}

	rootCmd.AddCommand(
		cli.NewIngestCmd(clientFn, outputFn),
		cli.NewSendCmd(senderFn, outputFn),
		cli.NewWatchCmd(watchFn, func() string { return natsURL }, outputFn),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
