package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Anomalix/internal/domain"
)

// eventFlags — флаги для сборки события из командной строки.
type eventFlags struct {
	file      string
	requestID string
	eventID   string
	roleID    string
	eventType string
	timestamp string
	assets    []string
}

func (f *eventFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.file, "file", "f", "", "Read event JSON from file ('-' for stdin)")
	fl.StringVar(&f.requestID, "request-id", "", "RequestID (default: random UUID)")
	fl.StringVar(&f.eventID, "event-id", "", "EventID (default: random UUID)")
	fl.StringVar(&f.roleID, "role", "", "RoleID")
	fl.StringVar(&f.eventType, "type", "", "EventType")
	fl.StringVar(&f.timestamp, "timestamp", "", "EventTimestamp (default: now, RFC 3339)")
	fl.StringSliceVar(&f.assets, "asset", nil, "Affected asset (repeatable)")
}

// readBody возвращает тело из --file или nil, если файл не задан.
func (f *eventFlags) readBody(stdin io.Reader) ([]byte, error) {
	if f.file == "" {
		return nil, nil
	}
	if f.file == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(f.file)
}

// event собирает событие из флагов.
func (f *eventFlags) event(now time.Time) domain.Event {
	event := domain.Event{
		RequestID:      f.requestID,
		EventID:        f.eventID,
		RoleID:         f.roleID,
		EventType:      f.eventType,
		EventTimestamp: f.timestamp,
		AffectedAssets: f.assets,
	}
	if event.RequestID == "" {
		event.RequestID = uuid.NewString()
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.EventTimestamp == "" {
		event.EventTimestamp = now.UTC().Format(time.RFC3339)
	}
	return event
}

func printResponse(out *Output, eventID string, statusCode int, message string) {
	out.Print(
		[]string{"EVENT", "STATUS", "MESSAGE"},
		[][]string{{eventID, strconv.Itoa(statusCode), message}},
		IngestResponse{StatusCode: statusCode, Message: message},
	)
}

// NewIngestCmd создаёт команду отправки события через HTTP API.
func NewIngestCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var flags eventFlags

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Submit an event through the API and print the worker response",
		Example: `  anomalix ingest --role admin --type login --asset db-1
  anomalix ingest -f event.json
  cat event.json | anomalix ingest -f -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			body, err := flags.readBody(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read event: %w", err)
			}

			var (
				resp    *IngestResponse
				eventID string
			)
			if body != nil {
				resp, err = client.IngestRaw(cmd.Context(), body)
				eventID = peekEventID(body)
			} else {
				event := flags.event(time.Now())
				eventID = event.EventID
				resp, err = client.Ingest(cmd.Context(), event)
			}
			if err != nil {
				return err
			}

			printResponse(out, eventID, resp.StatusCode, resp.Message)
			return nil
		},
	}

	flags.bind(cmd)
	return cmd
}

// EventSender — прямой RPC через брокер (mq.Caller).
type EventSender interface {
	Call(ctx context.Context, event domain.Event) (*domain.Response, error)
}

// NewSendCmd создаёт команду отправки события напрямую в рабочую очередь.
//
// senderFn открывает соединение с брокером; close освобождает его.
func NewSendCmd(
	senderFn func(ctx context.Context) (sender EventSender, close func(), err error),
	outputFn func() *Output,
) *cobra.Command {
	var flags eventFlags

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Publish an event straight to the work queue and await the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			event, err := flags.decodeOrBuild(cmd.InOrStdin(), time.Now())
			if err != nil {
				return err
			}

			sender, closeFn, err := senderFn(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			resp, err := sender.Call(cmd.Context(), event)
			if err != nil {
				return err
			}

			printResponse(out, event.EventID, int(resp.StatusCode), resp.Message)
			return nil
		},
	}

	flags.bind(cmd)
	return cmd
}

// decodeOrBuild читает событие из --file или собирает его из флагов.
func (f *eventFlags) decodeOrBuild(stdin io.Reader, now time.Time) (domain.Event, error) {
	body, err := f.readBody(stdin)
	if err != nil {
		return domain.Event{}, fmt.Errorf("read event: %w", err)
	}
	if body == nil {
		return f.event(now), nil
	}

	var event domain.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.Event{}, fmt.Errorf("parse event: %w", err)
	}
	return event, nil
}

func peekEventID(body []byte) string {
	var probe struct {
		EventID string `json:"EventID"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.EventID
}
