package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

type userRepository struct {
	db *sqlx.DB
}

type userRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Role         string    `db:"role"`
	Rating       float64   `db:"rating"`
	TotalReviews int       `db:"total_reviews"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r *userRepository) Get(ctx context.Context, id string) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var row userRow
	if err := r.db.GetContext(ctx, &row, `
		SELECT id, name, role, rating, total_reviews, updated_at
		FROM users
		WHERE id = $1
	`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}

	return domain.User{
		ID:           row.ID,
		Name:         row.Name,
		Role:         domain.Role(row.Role),
		Rating:       row.Rating,
		TotalReviews: row.TotalReviews,
		UpdatedAt:    row.UpdatedAt.UTC(),
	}, nil
}

// SaveRating создаёт пользователя при первом отзыве и перезаписывает рейтинг при повторных.
func (r *userRepository) SaveRating(ctx context.Context, summary domain.RatingSummary, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, rating, total_reviews, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET rating = EXCLUDED.rating,
		    total_reviews = EXCLUDED.total_reviews,
		    updated_at = EXCLUDED.updated_at
	`, summary.UserID, summary.Rating, summary.TotalReviews, at); err != nil {
		return fmt.Errorf("save user rating: %w", err)
	}
	return nil
}

var _ domain.UserRepository = (*userRepository)(nil)
