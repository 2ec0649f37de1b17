package domain

import "time"

// AnomalyRecord — сохранённый результат оценки события.
//
// Создаётся один раз на EventID и больше не изменяется.
type AnomalyRecord struct {
	RequestID      string    `json:"request_id"`
	EventID        string    `json:"event_id"`
	RoleID         string    `json:"role_id"`
	EventType      string    `json:"event_type"`
	EventTimestamp string    `json:"event_timestamp"`
	AffectedAssets []string  `json:"affected_assets"`
	AnomalyScore   float64   `json:"anomaly_score"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewAnomalyRecord собирает запись из события и его оценки.
// Отсутствующий список активов сохраняется как пустой массив.
func NewAnomalyRecord(e Event, score float64) *AnomalyRecord {
	assets := e.AffectedAssets
	if assets == nil {
		assets = []string{}
	}

	return &AnomalyRecord{
		RequestID:      e.RequestID,
		EventID:        e.EventID,
		RoleID:         e.RoleID,
		EventType:      e.EventType,
		EventTimestamp: e.EventTimestamp,
		AffectedAssets: assets,
		AnomalyScore:   score,
		CreatedAt:      time.Now().UTC(),
	}
}
