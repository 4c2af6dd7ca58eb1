package rating

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	"github.com/vladislavdragonenkov/campusmarket/internal/metrics"
)

// ratingPrecision: число знаков после запятой в рейтинге.
const ratingPrecision = 1

// Option настраивает Aggregator.
type Option func(*Aggregator)

// WithLogger задаёт logger агрегатора.
func WithLogger(logger *log.Entry) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithMetrics включает учёт неудачных пересчётов.
func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// Aggregator владеет полями Rating и TotalReviews пользователя.
type Aggregator struct {
	reviews domain.ReviewRepository
	users   domain.UserRepository
	logger  *log.Entry
	metrics *metrics.LifecycleMetrics
	now     func() time.Time

	// locks сериализует пересчёты одного пользователя: иначе более старое чтение
	// отзывов может записаться последним.
	locks userLocks
}

// NewAggregator создаёт агрегатор рейтинга.
func NewAggregator(reviews domain.ReviewRepository, users domain.UserRepository, options ...Option) *Aggregator {
	a := &Aggregator{
		reviews: reviews,
		users:   users,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(a)
	}
	if a.logger == nil {
		a.logger = log.WithField("component", "rating")
	}
	return a
}

// Recompute пересчитывает рейтинг по всем отзывам о пользователе и сохраняет его.
func (a *Aggregator) Recompute(ctx context.Context, userID string) (domain.RatingSummary, error) {
	unlock := a.locks.lock(userID)
	defer unlock()

	reviews, err := a.reviews.ListByReviewedUser(ctx, userID)
	if err != nil {
		return domain.RatingSummary{}, fmt.Errorf("list reviews for %s: %w", userID, err)
	}

	summary := Summarize(userID, reviews)
	if err := a.users.SaveRating(ctx, summary, a.now()); err != nil {
		return domain.RatingSummary{}, fmt.Errorf("save rating for %s: %w", userID, err)
	}
	return summary, nil
}

// Refresh вызывается после изменения отзывов. Ошибка не возвращается:
// устаревший рейтинг лучше, чем отказ в основной операции.
func (a *Aggregator) Refresh(ctx context.Context, userID string) {
	summary, err := a.Recompute(ctx, userID)
	if err != nil {
		a.logger.WithError(err).WithField("user_id", userID).Warn("rating refresh failed")
		if a.metrics != nil {
			a.metrics.RecordRatingRefreshFailure()
		}
		return
	}
	a.logger.WithFields(log.Fields{
		"user_id":       userID,
		"rating":        summary.Rating,
		"total_reviews": summary.TotalReviews,
	}).Debug("rating refreshed")
}

// Rating возвращает сохранённый рейтинг. Пользователь без отзывов имеет рейтинг 0.
func (a *Aggregator) Rating(ctx context.Context, userID string) (domain.RatingSummary, error) {
	user, err := a.users.Get(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.RatingSummary{UserID: userID}, nil
	}
	if err != nil {
		return domain.RatingSummary{}, err
	}
	return domain.RatingSummary{UserID: userID, Rating: user.Rating, TotalReviews: user.TotalReviews}, nil
}

// Summarize считает среднее точно и округляет до одного знака, половину от нуля.
func Summarize(userID string, reviews []domain.Review) domain.RatingSummary {
	if len(reviews) == 0 {
		return domain.RatingSummary{UserID: userID}
	}

	sum := decimal.Zero
	for _, review := range reviews {
		sum = sum.Add(decimal.NewFromInt(int64(review.Rating)))
	}
	mean := sum.DivRound(decimal.NewFromInt(int64(len(reviews))), ratingPrecision)

	return domain.RatingSummary{
		UserID:       userID,
		Rating:       mean.InexactFloat64(),
		TotalReviews: len(reviews),
	}
}

// userLocks выдаёт мьютекс на пользователя и удаляет его, когда ожидающих не осталось.
type userLocks struct {
	mu    sync.Mutex
	byKey map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func (l *userLocks) lock(key string) func() {
	l.mu.Lock()
	if l.byKey == nil {
		l.byKey = make(map[string]*userLock)
	}
	entry, ok := l.byKey[key]
	if !ok {
		entry = &userLock{}
		l.byKey[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.byKey, key)
		}
		l.mu.Unlock()
	}
}
