package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront-core/internal/model"
)

// Цена хранится как NUMERIC и передаётся текстом, чтобы не терять точность.
const listingColumns = `id, title, category, price::text, description, contact, photo_url, status, created_at, updated_at`

func scanListing(row pgx.Row) (model.Listing, error) {
	var (
		l      model.Listing
		price  string
		status string
	)
	err := row.Scan(&l.ID, &l.Title, &l.Category, &price, &l.Description, &l.Contact,
		&l.PhotoURL, &status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return model.Listing{}, err
	}

	l.Price, err = decimal.NewFromString(price)
	if err != nil {
		return model.Listing{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	l.Status = model.WorkflowStatus(status)
	return l, nil
}

// CreateListing сохраняет новое объявление.
func (r *PostgresRepository) CreateListing(ctx context.Context, l model.Listing) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO listings (id, title, category, price, description, contact, photo_url, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $9)`,
		l.ID, l.Title, l.Category, l.Price.StringFixed(2), l.Description, l.Contact, l.PhotoURL, string(l.Status), l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

// ListListings возвращает объявления в указанном статусе, пустой статус означает все.
func (r *PostgresRepository) ListListings(ctx context.Context, status model.WorkflowStatus) ([]model.Listing, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+listingColumns+`
		 FROM listings
		 WHERE $1 = '' OR status = $1
		 ORDER BY created_at DESC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select listings: %w", err)
	}
	defer rows.Close()

	var res []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		res = append(res, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// UpdateListingStatus записывает статус объявления.
func (r *PostgresRepository) UpdateListingStatus(ctx context.Context, id string, status model.WorkflowStatus) (model.Listing, error) {
	var l model.Listing
	err := r.withRetry(ctx, func() error {
		var err error
		l, err = scanListing(r.pool.QueryRow(ctx,
			`UPDATE listings SET status = $2, updated_at = NOW()
			 WHERE id = $1
			 RETURNING `+listingColumns,
			id, string(status),
		))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Listing{}, fmt.Errorf("listing %s: %w", id, ErrNotFound)
		}
		return model.Listing{}, fmt.Errorf("update listing status: %w", err)
	}
	return l, nil
}
