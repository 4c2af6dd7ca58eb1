package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

type reviewRepository struct {
	db *sqlx.DB
}

// Create полагается на UNIQUE(reviewer_id, transaction_id): проверка и вставка атомарны.
func (r *reviewRepository) Create(ctx context.Context, review domain.Review) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO reviews (`+reviewColumns+`)
		VALUES (:id, :reviewer_id, :reviewed_user_id, :transaction_id, :listing_id, :rating, :comment, :type, :created_at, :updated_at)
	`, reviewToRow(review))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateReview
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (r *reviewRepository) Get(ctx context.Context, id string) (domain.Review, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var row reviewRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Review{}, domain.ErrReviewNotFound
		}
		return domain.Review{}, fmt.Errorf("get review: %w", err)
	}
	return row.toDomain(), nil
}

func (r *reviewRepository) Update(ctx context.Context, review domain.Review) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE reviews
		SET rating = $2, comment = $3, updated_at = $4
		WHERE id = $1
	`, review.ID, review.Rating, review.Comment, review.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	return requireAffected(res, domain.ErrReviewNotFound)
}

func (r *reviewRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	return requireAffected(res, domain.ErrReviewNotFound)
}

func (r *reviewRepository) ListByReviewedUser(ctx context.Context, userID string) ([]domain.Review, error) {
	return r.list(ctx, `reviewed_user_id = $1`, userID)
}

func (r *reviewRepository) ListByListing(ctx context.Context, listingID string) ([]domain.Review, error) {
	return r.list(ctx, `listing_id = $1`, listingID)
}

func (r *reviewRepository) list(ctx context.Context, where string, arg string) ([]domain.Review, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var rows []reviewRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT `+reviewColumns+`
		FROM reviews
		WHERE `+where+`
		ORDER BY created_at DESC, id DESC
	`, arg); err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}

	result := make([]domain.Review, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.ReviewRepository = (*reviewRepository)(nil)
