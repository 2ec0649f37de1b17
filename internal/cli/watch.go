package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/Anomalix/internal/domain"
)

// WatchFunc подписывается на уведомления об аномалиях и вызывает fn на
// каждое, пока не отменён ctx (notify.Watch).
type WatchFunc func(ctx context.Context, url string, fn func(*domain.AnomalyRecord)) error

// NewWatchCmd создаёт команду, печатающую уведомления об аномалиях.
func NewWatchCmd(watch WatchFunc, natsURLFn func() string, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream anomaly notifications from NATS until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			url := natsURLFn()
			if url == "" {
				return errors.New("NATS URL is not set (use --nats-url or NATS_URL)")
			}

			out.Success(fmt.Sprintf("Watching anomalies on %s", url))

			err := watch(cmd.Context(), url, func(rec *domain.AnomalyRecord) {
				out.Print(
					[]string{"EVENT", "ROLE", "TYPE", "SCORE", "ASSETS"},
					[][]string{{
						rec.EventID,
						rec.RoleID,
						rec.EventType,
						fmt.Sprintf("%.4f", rec.AnomalyScore),
						strings.Join(rec.AffectedAssets, ","),
					}},
					rec,
				)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
