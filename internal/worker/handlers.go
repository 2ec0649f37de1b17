package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Anomalix/internal/domain"
	"github.com/shaiso/Anomalix/internal/mq"
	"github.com/shaiso/Anomalix/internal/repo"
	"github.com/shaiso/Anomalix/internal/telemetry"
)

// handleEvent обрабатывает одно сообщение рабочей очереди.
//
// nil — ответ отправлен, сообщение подтверждается.
// Ошибка обработки — сообщение вернётся в очередь (или уйдёт в DLQ).
// Ошибка отправки ответа — фатальна для consumer'а.
func (w *Worker) handleEvent(ctx context.Context, d *mq.Delivery) error {
	start := time.Now()
	logger := telemetry.FromContext(ctx)

	event, err := mq.DecodeEvent(d.Envelope.Body)
	if err != nil {
		telemetry.MessagesProcessed.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	logger = telemetry.WithEventID(logger, event.EventID)
	ctx = telemetry.WithLogger(ctx, logger)

	resp, err := w.Process(ctx, event)
	if err != nil {
		logger.Warn("event processing failed", "error", err)
		telemetry.MessagesProcessed.WithLabelValues("error").Inc()
		return err
	}

	if err := d.Reply(ctx, resp); err != nil {
		return fmt.Errorf("%w: reply to %s: %w", mq.ErrFatal, d.Envelope.ReplyTo, err)
	}

	telemetry.MessagesProcessed.WithLabelValues(resp.StatusCode.Label()).Inc()
	telemetry.ProcessingDuration.Observe(time.Since(start).Seconds())

	logger.Info("event processed",
		"status_code", resp.StatusCode,
		"duration", time.Since(start),
	)
	return nil
}

// handleDeadLetter отправляет отправителю единственный ответ 500 перед
// тем, как сообщение уйдёт в DLQ.
func (w *Worker) handleDeadLetter(ctx context.Context, d *mq.Delivery, cause error) error {
	telemetry.MessagesProcessed.WithLabelValues("dead_letter").Inc()

	if err := d.Reply(ctx, domain.ProcessingFailed(cause)); err != nil {
		return fmt.Errorf("reply to %s: %w", d.Envelope.ReplyTo, err)
	}
	return nil
}

// Process проводит событие через dedup → score → insert и выбирает ответ.
//
// Это единственное место, где решается исход: на каждое событие — ровно
// один Response. Ошибка означает, что ответа нет и сообщение нужно повторить.
func (w *Worker) Process(ctx context.Context, event domain.Event) (domain.Response, error) {
	logger := telemetry.FromContext(ctx)

	if !event.HasEventID() {
		return domain.Response{}, ErrMissingEventID
	}

	// 1. Dedup
	stored, found, err := w.eventExists(ctx, event.EventID)
	if err != nil {
		return domain.Response{}, err
	}
	if found {
		logger.Info("event already processed", "anomaly_score", stored)
		return domain.AlreadyProcessed(event.EventID, stored), nil
	}

	// 2. Score
	score, err := withTimeout(ctx, w.callTimeout, func(ctx context.Context) (float64, error) {
		return w.scorer.Score(ctx, event)
	})
	if err != nil {
		return domain.Response{}, fmt.Errorf("score event: %w", err)
	}

	if score <= w.threshold {
		logger.Debug("no anomaly", "anomaly_score", score, "threshold", w.threshold)
		return domain.NoAnomaly(event.EventID), nil
	}

	// 3. Insert — без повторов: результат неоднозначной ошибки неизвестен
	rec := domain.NewAnomalyRecord(event, score)
	_, err = withTimeout(ctx, w.callTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.store.Insert(ctx, rec)
	})

	switch {
	case errors.Is(err, repo.ErrAlreadyExists):
		// Другой воркер успел сохранить это событие
		stored, found, lookupErr := w.eventExists(ctx, event.EventID)
		if lookupErr != nil || !found {
			logger.Error("insert conflict without stored record", "error", err, "lookup_error", lookupErr)
			return domain.InsertFailed(err), nil
		}
		logger.Info("event inserted concurrently", "anomaly_score", stored)
		return domain.AlreadyProcessed(event.EventID, stored), nil

	case err != nil:
		logger.Error("failed to insert event", "error", err)
		return domain.InsertFailed(err), nil
	}

	logger.Info("anomaly detected", "anomaly_score", score, "threshold", w.threshold)
	w.notify(ctx, rec)

	return domain.AnomalyDetected(event.EventID, score), nil
}

// eventExists — проверка существования с повторами и таймаутом на попытку.
func (w *Worker) eventExists(ctx context.Context, eventID string) (float64, bool, error) {
	var (
		score float64
		found bool
	)

	err := withRetry(ctx, w.existsRetry, func(ctx context.Context) error {
		type result struct {
			score float64
			found bool
		}
		r, err := withTimeout(ctx, w.callTimeout, func(ctx context.Context) (result, error) {
			s, ok, err := w.store.EventExists(ctx, eventID)
			return result{s, ok}, err
		})
		if err != nil {
			telemetry.FromContext(ctx).Debug("event lookup failed", "error", err)
			return err
		}
		score, found = r.score, r.found
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("check event %s: %w", eventID, err)
	}
	return score, found, nil
}

// notify публикует уведомление. Ошибка только логируется.
func (w *Worker) notify(ctx context.Context, rec *domain.AnomalyRecord) {
	if w.notifier == nil {
		return
	}

	_, err := withTimeout(ctx, w.callTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.notifier.AnomalyDetected(ctx, rec)
	})
	if err != nil {
		telemetry.FromContext(ctx).Warn("failed to publish anomaly notification", "error", err)
	}
}
