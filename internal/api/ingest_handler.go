package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/shaiso/Anomalix/internal/mq"
	"github.com/shaiso/Anomalix/internal/telemetry"
)

// maxIngestBody — предел размера тела /ingest.
const maxIngestBody = 1 << 20

// Ingest принимает событие, передаёт его воркеру и возвращает его ответ.
// POST /ingest
//
//	400 — тело не объект или нет обязательного ключа
//	500 — событие не удалось опубликовать
//	504 — воркер не ответил вовремя
//	200 — ответ воркера {status_code, response_msg}
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		h.countIngest(http.StatusBadRequest)
		BadRequest(w, "Invalid data")
		return
	}

	event, err := DecodeIngestRequest(body)
	if err != nil {
		h.logger.Debug("rejecting ingest request", "error", err)
		h.countIngest(http.StatusBadRequest)
		BadRequest(w, "Invalid data")
		return
	}

	logger := telemetry.WithEventID(h.logger, event.EventID).With("request_id", event.RequestID)
	ctx := telemetry.WithLogger(r.Context(), logger)

	resp, err := h.caller.Call(ctx, event)
	switch {
	case err == nil:
		h.countIngest(http.StatusOK)
		JSON(w, http.StatusOK, IngestResponseFromDomain(*resp))

	case errors.Is(err, mq.ErrPublish):
		logger.Error("failed to publish event", "error", err)
		h.countIngest(http.StatusInternalServerError)
		Error(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to publish event: "+err.Error())

	case errors.Is(err, mq.ErrResponseTimeout):
		logger.Warn("worker did not respond in time", "error", err)
		h.countIngest(http.StatusGatewayTimeout)
		GatewayTimeout(w, "Timed out waiting for worker response")

	default:
		h.countIngest(http.StatusInternalServerError)
		InternalError(w, logger, err)
	}
}

// Healthz — проверка живости и готовности.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	if !h.ready() {
		Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "broker not connected")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) countIngest(status int) {
	telemetry.IngestRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}
