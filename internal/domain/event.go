package domain

import "strings"

// Event — единица работы, которую API передаёт воркеру через очередь.
//
// Имена JSON-полей совпадают с форматом сообщения в рабочей очереди
// и с телом запроса POST /ingest.
type Event struct {
	// RequestID — непрозрачный идентификатор запроса от клиента.
	RequestID string `json:"RequestID"`

	// EventID — уникальный идентификатор события.
	// Ключ дедупликации: на один EventID хранится не больше одной записи.
	EventID string `json:"EventID"`

	// RoleID — роль, от имени которой произошло событие.
	RoleID string `json:"RoleID"`

	// EventType — тип события (например, "login").
	EventType string `json:"EventType"`

	// EventTimestamp — время события в том виде, в каком его прислал клиент.
	EventTimestamp string `json:"EventTimestamp"`

	// AffectedAssets — затронутые активы. Может отсутствовать (null).
	AffectedAssets []string `json:"AffectedAssets"`
}

// RequiredEventKeys — ключи, которые обязаны присутствовать в теле /ingest.
var RequiredEventKeys = []string{
	"RequestID",
	"EventID",
	"RoleID",
	"EventType",
	"EventTimestamp",
	"AffectedAssets",
}

// HasEventID проверяет, что у события есть ключ дедупликации.
func (e Event) HasEventID() bool {
	return strings.TrimSpace(e.EventID) != ""
}
