package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Anomalix/internal/domain"
)

// pgUniqueViolation — код ошибки PostgreSQL для нарушения уникальности.
const pgUniqueViolation = "23505"

// AnomalyRepo — репозиторий для таблицы anomalies.
type AnomalyRepo struct {
	pool *pgxpool.Pool
}

// NewAnomalyRepo создаёт новый AnomalyRepo.
func NewAnomalyRepo(pool *pgxpool.Pool) *AnomalyRepo {
	return &AnomalyRepo{pool: pool}
}

// EventExists возвращает сохранённую оценку события, если оно уже обработано.
func (r *AnomalyRepo) EventExists(ctx context.Context, eventID string) (float64, bool, error) {
	query := `
		SELECT anomaly_score
		FROM anomalies
		WHERE event_id = $1
	`
	var score float64
	err := r.pool.QueryRow(ctx, query, eventID).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("check event exists: %w", err)
	}
	return score, true, nil
}

// Insert сохраняет запись. Повтор EventID — ErrAlreadyExists.
func (r *AnomalyRepo) Insert(ctx context.Context, rec *domain.AnomalyRecord) error {
	query := `
		INSERT INTO anomalies (
			request_id, event_id, role_id, event_type,
			event_timestamp, affected_assets, anomaly_score, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	assets := rec.AffectedAssets
	if assets == nil {
		assets = []string{}
	}

	_, err := r.pool.Exec(ctx, query,
		rec.RequestID,
		rec.EventID,
		rec.RoleID,
		rec.EventType,
		rec.EventTimestamp,
		assets,
		rec.AnomalyScore,
		rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("insert anomaly %s: %w", rec.EventID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}
