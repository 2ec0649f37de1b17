package mq

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/shaiso/Anomalix/internal/domain"
)

const contentTypeJSON = "application/json"

// EncodeEvent сериализует событие в тело сообщения рабочей очереди.
func EncodeEvent(e domain.Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return body, nil
}

// DecodeEvent разбирает тело сообщения рабочей очереди.
func DecodeEvent(body []byte) (domain.Event, error) {
	var e domain.Event
	if err := json.Unmarshal(body, &e); err != nil {
		return domain.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return e, nil
}

// EncodeResponse сериализует ответ воркера.
func EncodeResponse(r domain.Response) ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return body, nil
}

// DecodeResponse разбирает ответ из очереди ответов.
func DecodeResponse(body []byte) (domain.Response, error) {
	var r domain.Response
	if err := json.Unmarshal(body, &r); err != nil {
		return domain.Response{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return r, nil
}
