package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

type listingRepository struct {
	s *Store
}

// Create сохраняет новое объявление, если ID ещё не занят.
func (r *listingRepository) Create(_ context.Context, listing domain.Listing) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.listings[listing.ID]; exists {
		return domain.ErrListingAlreadyExists
	}
	r.s.listings[listing.ID] = listing
	return nil
}

func (r *listingRepository) Get(_ context.Context, id string) (domain.Listing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	listing, ok := r.s.listings[id]
	if !ok {
		return domain.Listing{}, domain.ErrListingNotFound
	}
	return listing, nil
}

// UpdateDetails меняет описательные поля; статус и продавец остаются прежними.
func (r *listingRepository) UpdateDetails(_ context.Context, listing domain.Listing) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.listings[listing.ID]
	if !ok {
		return domain.ErrListingNotFound
	}
	if current.Status != domain.ListingStatusAvailable {
		return domain.ErrListingLocked
	}
	if _, active := r.s.activeTransactionLocked(listing.ID); active {
		return domain.ErrListingLocked
	}

	current.Title = listing.Title
	current.Description = listing.Description
	current.Category = listing.Category
	current.Price = listing.Price
	current.UpdatedAt = listing.UpdatedAt
	r.s.listings[listing.ID] = current
	return nil
}

func (r *listingRepository) ListBySeller(_ context.Context, sellerID string, limit int) ([]domain.Listing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.Listing, 0)
	for _, listing := range r.s.listings {
		if listing.SellerID == sellerID {
			result = append(result, listing)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *listingRepository) ListOrphanedReservations(_ context.Context, limit int) ([]domain.Listing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.Listing, 0)
	for _, listing := range r.s.listings {
		if listing.Status != domain.ListingStatusReserved {
			continue
		}
		if _, active := r.s.activeTransactionLocked(listing.ID); active {
			continue
		}
		result = append(result, listing)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

var _ domain.ListingRepository = (*listingRepository)(nil)
