package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

type userRepository struct {
	s *Store
}

func (r *userRepository) Get(_ context.Context, id string) (domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	user, ok := r.s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (r *userRepository) SaveRating(_ context.Context, summary domain.RatingSummary, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[summary.UserID]
	if !ok {
		user = domain.User{ID: summary.UserID, Role: domain.RoleUser}
	}
	user.Rating = summary.Rating
	user.TotalReviews = summary.TotalReviews
	user.UpdatedAt = at
	r.s.users[summary.UserID] = user
	return nil
}

var _ domain.UserRepository = (*userRepository)(nil)
