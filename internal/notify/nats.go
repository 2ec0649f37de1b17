package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/shaiso/Anomalix/internal/domain"
)

// SubjectAnomalyDetected — subject уведомлений о сохранённых аномалиях.
const SubjectAnomalyDetected = "anomalix.anomaly.detected"

// NATSNotifier публикует уведомления в NATS.
type NATSNotifier struct {
	conn *nats.Conn
}

// connectOptions — переподключение без ограничения попыток.
func connectOptions(name string, logger *slog.Logger) []nats.Option {
	return []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
}

// NewNATSNotifier подключается к NATS.
func NewNATSNotifier(url string, logger *slog.Logger) (*NATSNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(url, connectOptions("anomalix-worker", logger)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSNotifier{conn: nc}, nil
}

// AnomalyDetected публикует запись.
func (n *NATSNotifier) AnomalyDetected(ctx context.Context, rec *domain.AnomalyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.conn.Publish(SubjectAnomalyDetected, data); err != nil {
		return fmt.Errorf("publish %s: %w", SubjectAnomalyDetected, err)
	}
	return nil
}

// Close отправляет буферизованные сообщения и закрывает соединение.
func (n *NATSNotifier) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

// Watch подписывается на уведомления и вызывает fn для каждого, пока не
// отменён ctx. Некорректные сообщения пропускаются.
func Watch(ctx context.Context, url string, logger *slog.Logger, fn func(*domain.AnomalyRecord)) error {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(url, connectOptions("anomalix-cli", logger)...)
	if err != nil {
		return fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	defer nc.Close()

	msgs := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe(SubjectAnomalyDetected, msgs)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", SubjectAnomalyDetected, err)
	}
	defer sub.Unsubscribe() //nolint:errcheck

	if err := nc.Flush(); err != nil {
		return fmt.Errorf("flushing subscription: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			var rec domain.AnomalyRecord
			if err := json.Unmarshal(msg.Data, &rec); err != nil {
				logger.Warn("skipping malformed notification", "error", err)
				continue
			}
			fn(&rec)
		}
	}
}
