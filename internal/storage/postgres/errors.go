package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

const (
	pgUniqueViolation = "23505"

	constraintOneActivePerListing = "transactions_one_active_per_listing"
	constraintReviewPerReviewer   = "reviews_reviewer_transaction_key"
	constraintListingsPkey        = "listings_pkey"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// translateConstraintError переводит нарушения уникальных индексов в доменные ошибки.
// Остальные ошибки возвращаются как есть.
func translateConstraintError(err error) error {
	if !isUniqueViolation(err) {
		return err
	}
	switch constraintName(err) {
	case constraintOneActivePerListing:
		return domain.ErrActiveTransactionExists
	case constraintReviewPerReviewer:
		return domain.ErrDuplicateReview
	case constraintListingsPkey:
		return domain.ErrListingAlreadyExists
	default:
		return err
	}
}
