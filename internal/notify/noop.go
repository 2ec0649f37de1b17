package notify

import (
	"context"

	"github.com/shaiso/Anomalix/internal/domain"
)

// Noop — уведомления отключены (NATS_URL не задан).
type Noop struct{}

func (Noop) AnomalyDetected(context.Context, *domain.AnomalyRecord) error {
	return nil
}

func (Noop) Close() error {
	return nil
}
