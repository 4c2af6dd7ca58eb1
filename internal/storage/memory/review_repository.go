package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

type reviewRepository struct {
	s *Store
}

// Create проверяет уникальность (reviewer, transaction) под той же блокировкой, что и вставка.
func (r *reviewRepository) Create(_ context.Context, review domain.Review) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.reviews {
		if existing.ReviewerID == review.ReviewerID && existing.TransactionID == review.TransactionID {
			return domain.ErrDuplicateReview
		}
	}
	if _, exists := r.s.reviews[review.ID]; exists {
		return domain.ErrDuplicateReview
	}
	r.s.reviews[review.ID] = review
	return nil
}

func (r *reviewRepository) Get(_ context.Context, id string) (domain.Review, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	review, ok := r.s.reviews[id]
	if !ok {
		return domain.Review{}, domain.ErrReviewNotFound
	}
	return review, nil
}

// Update меняет только оценку и комментарий.
func (r *reviewRepository) Update(_ context.Context, review domain.Review) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.reviews[review.ID]
	if !ok {
		return domain.ErrReviewNotFound
	}
	current.Rating = review.Rating
	current.Comment = review.Comment
	current.UpdatedAt = review.UpdatedAt
	r.s.reviews[review.ID] = current
	return nil
}

func (r *reviewRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.reviews[id]; !ok {
		return domain.ErrReviewNotFound
	}
	delete(r.s.reviews, id)
	return nil
}

func (r *reviewRepository) ListByReviewedUser(_ context.Context, userID string) ([]domain.Review, error) {
	return r.filter(func(review domain.Review) bool { return review.ReviewedUserID == userID }), nil
}

func (r *reviewRepository) ListByListing(_ context.Context, listingID string) ([]domain.Review, error) {
	return r.filter(func(review domain.Review) bool { return review.ListingID == listingID }), nil
}

func (r *reviewRepository) filter(match func(domain.Review) bool) []domain.Review {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.Review, 0)
	for _, review := range r.s.reviews {
		if match(review) {
			result = append(result, review)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

var _ domain.ReviewRepository = (*reviewRepository)(nil)
