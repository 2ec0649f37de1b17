package domain

import "fmt"

// StatusCode — логический результат обработки события.
//
// Это не HTTP-статус ответа API, а код внутри тела ответа воркера.
//
// Жизненный цикл сообщения у воркера:
//
//	Received → Deduped ───────────────────→ Responded (200)
//	         ↘ Scored → Inserted ─────────→ Responded (201 | 500)
//	                  ↘ Skipped ──────────→ Responded (204)
//	(из любого состояния) → Errored → requeue | dead-letter (500)
type StatusCode int

const (
	// StatusAlreadyProcessed — событие уже оценено, возвращается сохранённая оценка.
	StatusAlreadyProcessed StatusCode = 200

	// StatusAnomalyDetected — найдена аномалия, запись сохранена.
	StatusAnomalyDetected StatusCode = 201

	// StatusNoAnomaly — событие обработано, аномалии нет.
	StatusNoAnomaly StatusCode = 204

	// StatusFailed — ошибка сохранения или обработки.
	StatusFailed StatusCode = 500
)

// Response — ответ воркера, который уходит в очередь ответов.
type Response struct {
	StatusCode StatusCode `json:"status_code"`
	Message    string     `json:"response_msg"`
}

// AlreadyProcessed — ответ для повторно присланного EventID.
func AlreadyProcessed(eventID string, score float64) Response {
	return Response{
		StatusCode: StatusAlreadyProcessed,
		Message:    fmt.Sprintf("Event %s already processed with anomaly score %v.", eventID, score),
	}
}

// AnomalyDetected — ответ после успешной вставки записи.
func AnomalyDetected(eventID string, score float64) Response {
	return Response{
		StatusCode: StatusAnomalyDetected,
		Message:    fmt.Sprintf("Anomaly detected: %v for event %s", score, eventID),
	}
}

// NoAnomaly — ответ, когда оценка не превысила порог.
func NoAnomaly(eventID string) Response {
	return Response{
		StatusCode: StatusNoAnomaly,
		Message:    fmt.Sprintf("No anomaly detected for event %s", eventID),
	}
}

// InsertFailed — ответ, когда запись не удалось сохранить.
func InsertFailed(err error) Response {
	return Response{
		StatusCode: StatusFailed,
		Message:    fmt.Sprintf("Failed to insert event into the database: %v", err),
	}
}

// ProcessingFailed — ответ для сообщения, ушедшего в dead-letter.
func ProcessingFailed(err error) Response {
	return Response{
		StatusCode: StatusFailed,
		Message:    fmt.Sprintf("Failed to process event: %v", err),
	}
}

// Label возвращает код в виде строки (для метрик и логов).
func (s StatusCode) Label() string {
	return fmt.Sprintf("%d", int(s))
}
