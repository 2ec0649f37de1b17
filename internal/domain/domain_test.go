package domain

import (
	"errors"
	"testing"
)

func TestResponses(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		code StatusCode
		msg  string
	}{
		{
			name: "already processed",
			resp: AlreadyProcessed("e1", 0.9),
			code: 200,
			msg:  "Event e1 already processed with anomaly score 0.9.",
		},
		{
			name: "anomaly detected",
			resp: AnomalyDetected("e1", 0.9),
			code: 201,
			msg:  "Anomaly detected: 0.9 for event e1",
		},
		{
			name: "no anomaly",
			resp: NoAnomaly("e2"),
			code: 204,
			msg:  "No anomaly detected for event e2",
		},
		{
			name: "insert failed",
			resp: InsertFailed(errors.New("connection reset")),
			code: 500,
			msg:  "Failed to insert event into the database: connection reset",
		},
		{
			name: "processing failed",
			resp: ProcessingFailed(errors.New("database unavailable")),
			code: 500,
			msg:  "Failed to process event: database unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.resp.StatusCode != tt.code {
				t.Errorf("expected status %d, got %d", tt.code, tt.resp.StatusCode)
			}
			if tt.resp.Message != tt.msg {
				t.Errorf("expected message %q, got %q", tt.msg, tt.resp.Message)
			}
		})
	}
}

func TestStatusCodeLabel(t *testing.T) {
	if got := StatusNoAnomaly.Label(); got != "204" {
		t.Errorf("expected 204, got %s", got)
	}
}

func TestNewAnomalyRecord(t *testing.T) {
	e := Event{
		RequestID:      "r1",
		EventID:        "e1",
		RoleID:         "admin",
		EventType:      "login",
		EventTimestamp: "2024-01-01T00:00:00Z",
	}

	rec := NewAnomalyRecord(e, 0.75)

	if rec.AffectedAssets == nil || len(rec.AffectedAssets) != 0 {
		t.Errorf("expected empty non-nil assets, got %#v", rec.AffectedAssets)
	}
	if rec.EventID != "e1" || rec.RoleID != "admin" || rec.AnomalyScore != 0.75 {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestEventHasEventID(t *testing.T) {
	if (Event{EventID: "  "}).HasEventID() {
		t.Error("blank EventID must not count")
	}
	if !(Event{EventID: "e1"}).HasEventID() {
		t.Error("expected EventID to be present")
	}
}
