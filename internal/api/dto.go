package api

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/shaiso/Anomalix/internal/domain"
)

// IngestResponse — тело успешного ответа /ingest: ответ воркера как есть.
type IngestResponse struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"response_msg"`
}

// IngestResponseFromDomain конвертирует domain.Response в IngestResponse.
func IngestResponseFromDomain(r domain.Response) IngestResponse {
	return IngestResponse{
		StatusCode: int(r.StatusCode),
		Message:    r.Message,
	}
}

// DecodeIngestRequest разбирает тело /ingest.
//
// Тело должно быть JSON-объектом со всеми ключами domain.RequiredEventKeys.
// Значение null допустимо, отсутствие ключа — нет.
func DecodeIngestRequest(body []byte) (domain.Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return domain.Event{}, fmt.Errorf("body is not a JSON object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return domain.Event{}, fmt.Errorf("parse body: %w", err)
	}

	for _, key := range domain.RequiredEventKeys {
		if _, ok := fields[key]; !ok {
			return domain.Event{}, fmt.Errorf("missing key %s", key)
		}
	}

	var event domain.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.Event{}, fmt.Errorf("parse event: %w", err)
	}
	return event, nil
}
