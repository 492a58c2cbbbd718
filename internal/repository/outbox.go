package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/storefront-core/internal/model"
)

const outboxColumns = `id, kind, payload, status, attempts, last_error, next_attempt_at, created_at, updated_at`

func scanOutbox(row pgx.Row) (model.OutboxEntry, error) {
	var (
		e      model.OutboxEntry
		status string
	)
	err := row.Scan(&e.ID, &e.Kind, &e.Payload, &status, &e.Attempts, &e.LastError,
		&e.NextAttemptAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return model.OutboxEntry{}, err
	}
	e.Status = model.OutboxStatus(status)
	return e, nil
}

func collectOutbox(rows pgx.Rows) ([]model.OutboxEntry, error) {
	defer rows.Close()

	var res []model.OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// EnqueueNotification сохраняет недоставленное уведомление.
func (r *PostgresRepository) EnqueueNotification(ctx context.Context, e model.OutboxEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notification_outbox (id, kind, payload, status, attempts, last_error, next_attempt_at, created_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, $8, $8)`,
		e.ID, e.Kind, string(e.Payload), string(e.Status), e.Attempts, e.LastError, e.NextAttemptAt, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ClaimDueNotifications выбирает созревшие записи и сдвигает их срок на lease,
// чтобы параллельный экземпляр не взял их повторно. SKIP LOCKED не ждёт чужих блокировок.
func (r *PostgresRepository) ClaimDueNotifications(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]model.OutboxEntry, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE notification_outbox
		 SET next_attempt_at = $2, updated_at = NOW()
		 WHERE id IN (
		     SELECT id FROM notification_outbox
		     WHERE status = $3 AND next_attempt_at <= $1
		     ORDER BY next_attempt_at
		     LIMIT $4
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+outboxColumns,
		now, now.Add(lease), string(model.OutboxPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim outbox entries: %w", err)
	}
	return collectOutbox(rows)
}

// MarkNotificationSent отмечает запись доставленной с итоговым числом попыток.
func (r *PostgresRepository) MarkNotificationSent(ctx context.Context, id string, attempts int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_outbox SET status = $2, attempts = $3, last_error = '', updated_at = NOW() WHERE id = $1`,
		id, string(model.OutboxSent), attempts,
	)
	if err != nil {
		return fmt.Errorf("mark outbox entry sent: %w", err)
	}
	return nil
}

// RescheduleNotification переносит следующую попытку.
func (r *PostgresRepository) RescheduleNotification(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_outbox
		 SET attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = NOW()
		 WHERE id = $1`,
		id, attempts, next, lastErr,
	)
	if err != nil {
		return fmt.Errorf("reschedule outbox entry: %w", err)
	}
	return nil
}

// MarkNotificationDead переводит запись в dead letters.
func (r *PostgresRepository) MarkNotificationDead(ctx context.Context, id string, attempts int, lastErr string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_outbox SET status = $2, attempts = $3, last_error = $4, updated_at = NOW() WHERE id = $1`,
		id, string(model.OutboxDead), attempts, lastErr,
	)
	if err != nil {
		return fmt.Errorf("mark outbox entry dead: %w", err)
	}
	return nil
}

// ListDeadNotifications возвращает последние записи в dead letters.
func (r *PostgresRepository) ListDeadNotifications(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+outboxColumns+`
		 FROM notification_outbox
		 WHERE status = $1
		 ORDER BY updated_at DESC
		 LIMIT $2`,
		string(model.OutboxDead), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select dead outbox entries: %w", err)
	}
	return collectOutbox(rows)
}

// RequeueNotification возвращает запись из dead letters в очередь со сброшенным счётчиком попыток.
func (r *PostgresRepository) RequeueNotification(ctx context.Context, id string, now time.Time) (model.OutboxEntry, error) {
	e, err := scanOutbox(r.pool.QueryRow(ctx,
		`UPDATE notification_outbox
		 SET status = $2, attempts = 0, next_attempt_at = $4, updated_at = NOW()
		 WHERE id = $1 AND status = $3
		 RETURNING `+outboxColumns,
		id, string(model.OutboxPending), string(model.OutboxDead), now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.OutboxEntry{}, fmt.Errorf("dead notification %s: %w", id, ErrNotFound)
		}
		return model.OutboxEntry{}, fmt.Errorf("requeue outbox entry: %w", err)
	}
	return e, nil
}
