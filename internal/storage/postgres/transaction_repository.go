package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

type transactionRepository struct {
	db *sqlx.DB
}

func (r *transactionRepository) Get(ctx context.Context, id string) (domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return getTransaction(ctx, r.db, id)
}

func (r *transactionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	var rows []transactionRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit); err != nil {
		return nil, fmt.Errorf("list transactions by user: %w", err)
	}

	result := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (r *transactionRepository) HasActive(ctx context.Context, listingID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var active bool
	if err := r.db.GetContext(ctx, &active, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE listing_id = $1 AND status IN ('Initiated', 'Reserved')
		)
	`, listingID); err != nil {
		return false, fmt.Errorf("check active transaction: %w", err)
	}
	return active, nil
}

var _ domain.TransactionRepository = (*transactionRepository)(nil)
