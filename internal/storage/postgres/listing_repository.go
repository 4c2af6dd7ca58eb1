package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

type listingRepository struct {
	db *sqlx.DB
}

func (r *listingRepository) Create(ctx context.Context, listing domain.Listing) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO listings (id, seller_id, title, description, category, price, status, created_at, updated_at)
		VALUES (:id, :seller_id, :title, :description, :category, :price, :status, :created_at, :updated_at)
	`, listingToRow(listing))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrListingAlreadyExists
		}
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (r *listingRepository) Get(ctx context.Context, id string) (domain.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return getListing(ctx, r.db, id)
}

// UpdateDetails пишет только описательные поля и только по Available-объявлению без активной сделки.
func (r *listingRepository) UpdateDetails(ctx context.Context, listing domain.Listing) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.NamedExecContext(ctx, `
		UPDATE listings
		SET title = :title,
		    description = :description,
		    category = :category,
		    price = :price,
		    updated_at = :updated_at
		WHERE id = :id
		  AND status = 'Available'
		  AND NOT EXISTS (
			SELECT 1 FROM transactions t
			WHERE t.listing_id = listings.id AND t.status IN ('Initiated', 'Reserved')
		  )
	`, listingToRow(listing))
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := getListing(ctx, r.db, listing.ID); err != nil {
			return err
		}
		return domain.ErrListingLocked
	}
	return nil
}

func (r *listingRepository) ListBySeller(ctx context.Context, sellerID string, limit int) ([]domain.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	var rows []listingRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE seller_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, sellerID, limit); err != nil {
		return nil, fmt.Errorf("list listings by seller: %w", err)
	}
	return listingsFromRows(rows), nil
}

func (r *listingRepository) ListOrphanedReservations(ctx context.Context, limit int) ([]domain.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	var rows []listingRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT `+listingColumns+`
		FROM listings l
		WHERE l.status = 'Reserved'
		  AND NOT EXISTS (
			SELECT 1 FROM transactions t
			WHERE t.listing_id = l.id AND t.status IN ('Initiated', 'Reserved')
		  )
		ORDER BY l.updated_at ASC
		LIMIT $1
	`, limit); err != nil {
		return nil, fmt.Errorf("list orphaned reservations: %w", err)
	}
	return listingsFromRows(rows), nil
}

func listingsFromRows(rows []listingRow) []domain.Listing {
	result := make([]domain.Listing, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result
}

var _ domain.ListingRepository = (*listingRepository)(nil)
