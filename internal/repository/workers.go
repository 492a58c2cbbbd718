package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/storefront-core/internal/model"
)

const workerColumns = `id, first_name, last_name, email, phone, role, account_id, status, activation_pending, created_at, updated_at`

func scanWorker(row pgx.Row) (model.Worker, error) {
	var (
		w      model.Worker
		status string
	)
	err := row.Scan(&w.ID, &w.FirstName, &w.LastName, &w.Email, &w.Phone, &w.Role,
		&w.AccountID, &status, &w.ActivationPending, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return model.Worker{}, err
	}
	w.Status = model.WorkflowStatus(status)
	return w, nil
}

func collectWorkers(rows pgx.Rows) ([]model.Worker, error) {
	defer rows.Close()

	var res []model.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		res = append(res, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// WorkerExists проверяет, есть ли заявка с таким email.
func (r *PostgresRepository) WorkerExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM workers WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check worker: %w", err)
	}
	return exists, nil
}

// CreateWorker сохраняет новую заявку мастера.
func (r *PostgresRepository) CreateWorker(ctx context.Context, w model.Worker) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO workers (id, first_name, last_name, email, phone, role, account_id, status, activation_pending, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		w.ID, w.FirstName, w.LastName, w.Email, w.Phone, w.Role, w.AccountID, string(w.Status), w.ActivationPending, w.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrWorkerExists, w.Email)
		}
		return fmt.Errorf("insert worker: %w", err)
	}
	return nil
}

// GetWorker возвращает заявку мастера по идентификатору.
func (r *PostgresRepository) GetWorker(ctx context.Context, id string) (model.Worker, error) {
	w, err := scanWorker(r.pool.QueryRow(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Worker{}, fmt.Errorf("worker %s: %w", id, ErrNotFound)
		}
		return model.Worker{}, fmt.Errorf("get worker: %w", err)
	}
	return w, nil
}

// ListWorkers возвращает заявки в указанном статусе, пустой статус означает все.
func (r *PostgresRepository) ListWorkers(ctx context.Context, status model.WorkflowStatus) ([]model.Worker, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+workerColumns+`
		 FROM workers
		 WHERE $1 = '' OR status = $1
		 ORDER BY created_at DESC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select workers: %w", err)
	}
	return collectWorkers(rows)
}

// UpdateWorkerStatus записывает статус и флаг незавершённой активации одной командой.
func (r *PostgresRepository) UpdateWorkerStatus(ctx context.Context, id string, status model.WorkflowStatus, activationPending bool) (model.Worker, error) {
	var w model.Worker
	err := r.withRetry(ctx, func() error {
		var err error
		w, err = scanWorker(r.pool.QueryRow(ctx,
			`UPDATE workers SET status = $2, activation_pending = $3, updated_at = NOW()
			 WHERE id = $1
			 RETURNING `+workerColumns,
			id, string(status), activationPending,
		))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Worker{}, fmt.Errorf("worker %s: %w", id, ErrNotFound)
		}
		return model.Worker{}, fmt.Errorf("update worker status: %w", err)
	}
	return w, nil
}

// SetActivationPending меняет флаг незавершённой активации.
func (r *PostgresRepository) SetActivationPending(ctx context.Context, id string, pending bool) error {
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE workers SET activation_pending = $2, updated_at = NOW() WHERE id = $1`,
			id, pending,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("worker %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("set activation pending: %w", err)
	}
	return nil
}

// ListActivationPending возвращает одобренных мастеров с незавершённой активацией.
func (r *PostgresRepository) ListActivationPending(ctx context.Context) ([]model.Worker, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+workerColumns+`
		 FROM workers
		 WHERE activation_pending AND status = $1
		 ORDER BY updated_at`,
		string(model.StatusApproved),
	)
	if err != nil {
		return nil, fmt.Errorf("select activation pending workers: %w", err)
	}
	return collectWorkers(rows)
}
