package review

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	"github.com/vladislavdragonenkov/campusmarket/internal/metrics"
)

const (
	opSubmit = "submit_review"
	opUpdate = "update_review"
	opDelete = "delete_review"
)

// RatingRefresher пересчитывает рейтинг после изменения отзывов.
type RatingRefresher interface {
	Refresh(ctx context.Context, userID string)
}

// SubmitRequest: данные нового отзыва.
type SubmitRequest struct {
	TransactionID string
	Type          domain.ReviewType
	Rating        int
	Comment       string
}

// UpdateRequest: частичное обновление; nil-поля сохраняют прежние значения.
type UpdateRequest struct {
	Rating  *int
	Comment *string
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics включает метрики операций.
func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithNotifier задаёт получателя уведомлений об отзывах.
func WithNotifier(n domain.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithTimeline включает запись истории отзывов.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(s *Service) {
		s.timeline = timeline
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service проверяет отзыв против сделки и ролей перед записью в хранилище.
type Service struct {
	reviews      domain.ReviewRepository
	transactions domain.TransactionRepository
	ratings      RatingRefresher
	timeline     domain.TimelineRepository
	notifier     domain.Notifier
	logger       *log.Entry
	metrics      *metrics.LifecycleMetrics
	now          func() time.Time
}

// NewService создаёт сервис отзывов.
func NewService(reviews domain.ReviewRepository, transactions domain.TransactionRepository, ratings RatingRefresher, options ...Option) *Service {
	s := &Service{
		reviews:      reviews,
		transactions: transactions,
		ratings:      ratings,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "review")
	}
	return s
}

// Submit создаёт отзыв по завершённой сделке.
func (s *Service) Submit(ctx context.Context, reviewer domain.Actor, req SubmitRequest) (domain.Review, error) {
	start := time.Now()
	review, err := s.submit(ctx, reviewer, req)
	s.observe(opSubmit, start, err)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"transaction_id": req.TransactionID,
			"actor_id":       reviewer.ID,
		}).Debug("review rejected")
		return domain.Review{}, err
	}

	s.ratings.Refresh(ctx, review.ReviewedUserID)
	s.appendTimeline(ctx, review, domain.EventReviewSubmitted, reviewer.ID)
	s.notify(review.ReviewedUserID, domain.EventReviewSubmitted, "You received a new review", review)
	return review, nil
}

func (s *Service) submit(ctx context.Context, reviewer domain.Actor, req SubmitRequest) (domain.Review, error) {
	tx, err := s.transactions.Get(ctx, req.TransactionID)
	if err != nil {
		return domain.Review{}, err
	}
	if tx.Status != domain.TransactionStatusCompleted {
		return domain.Review{}, domain.ErrReviewNotCompleted
	}
	reviewedUserID, err := domain.ResolveReviewParties(tx, reviewer.ID, req.Type)
	if err != nil {
		return domain.Review{}, err
	}
	if err := domain.ValidateReviewContent(req.Rating, req.Comment); err != nil {
		return domain.Review{}, err
	}

	now := s.now()
	review := domain.Review{
		ID:             uuid.NewString(),
		ReviewerID:     reviewer.ID,
		ReviewedUserID: reviewedUserID,
		TransactionID:  tx.ID,
		ListingID:      tx.ListingID,
		Rating:         req.Rating,
		Comment:        req.Comment,
		Type:           req.Type,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	// Уникальность (reviewer, transaction) проверяет хранилище.
	if err := s.reviews.Create(ctx, review); err != nil {
		return domain.Review{}, err
	}
	return review, nil
}

// Update меняет оценку или комментарий автором в течение окна редактирования.
func (s *Service) Update(ctx context.Context, actor domain.Actor, reviewID string, req UpdateRequest) (domain.Review, error) {
	start := time.Now()
	review, err := s.update(ctx, actor, reviewID, req)
	s.observe(opUpdate, start, err)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"review_id": reviewID, "actor_id": actor.ID}).Debug("review update rejected")
		return domain.Review{}, err
	}

	s.ratings.Refresh(ctx, review.ReviewedUserID)
	s.appendTimeline(ctx, review, domain.EventReviewUpdated, actor.ID)
	s.notify(review.ReviewedUserID, domain.EventReviewUpdated, "A review about you was updated", review)
	return review, nil
}

func (s *Service) update(ctx context.Context, actor domain.Actor, reviewID string, req UpdateRequest) (domain.Review, error) {
	review, err := s.reviews.Get(ctx, reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	if review.ReviewerID != actor.ID {
		return domain.Review{}, domain.ErrNotReviewAuthor
	}
	now := s.now()
	if !review.Editable(now) {
		return domain.Review{}, domain.ErrReviewEditWindowClosed
	}

	if req.Rating != nil {
		review.Rating = *req.Rating
	}
	if req.Comment != nil {
		review.Comment = *req.Comment
	}
	if err := domain.ValidateReviewContent(review.Rating, review.Comment); err != nil {
		return domain.Review{}, err
	}
	review.UpdatedAt = now

	if err := s.reviews.Update(ctx, review); err != nil {
		return domain.Review{}, err
	}
	return review, nil
}

// Delete удаляет отзыв автором или модератором.
func (s *Service) Delete(ctx context.Context, actor domain.Actor, reviewID string) error {
	start := time.Now()
	review, err := s.delete(ctx, actor, reviewID)
	s.observe(opDelete, start, err)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"review_id": reviewID, "actor_id": actor.ID}).Debug("review delete rejected")
		return err
	}

	s.ratings.Refresh(ctx, review.ReviewedUserID)
	s.appendTimeline(ctx, review, domain.EventReviewDeleted, actor.ID)
	return nil
}

func (s *Service) delete(ctx context.Context, actor domain.Actor, reviewID string) (domain.Review, error) {
	review, err := s.reviews.Get(ctx, reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	if review.ReviewerID != actor.ID && !actor.IsAdmin() {
		return domain.Review{}, domain.ErrNotReviewAuthor
	}
	if err := s.reviews.Delete(ctx, reviewID); err != nil {
		return domain.Review{}, err
	}
	return review, nil
}

// ListForUser возвращает отзывы о пользователе, новые первыми.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]domain.Review, error) {
	return s.reviews.ListByReviewedUser(ctx, userID)
}

// ListForListing возвращает отзывы по объявлению, новые первыми.
func (s *Service) ListForListing(ctx context.Context, listingID string) ([]domain.Review, error) {
	return s.reviews.ListByListing(ctx, listingID)
}

func (s *Service) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, metrics.ResultFor(err), time.Since(start))
	}
}

func (s *Service) appendTimeline(ctx context.Context, review domain.Review, eventType, actorID string) {
	if s.timeline == nil {
		return
	}
	err := s.timeline.Append(ctx, domain.TimelineEvent{
		AggregateType: domain.AggregateReview,
		AggregateID:   review.ID,
		Type:          eventType,
		ActorID:       actorID,
		Occurred:      s.now(),
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"review_id": review.ID,
			"event":     eventType,
		}).Warn("append timeline event failed")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordTimelineEvents(1)
	}
}

func (s *Service) notify(userID, eventType, message string, review domain.Review) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(userID, eventType, domain.Notification{
		Type:    domain.NotificationReview,
		Event:   eventType,
		Message: message,
		Data: map[string]any{
			"reviewId":      review.ID,
			"transactionId": review.TransactionID,
			"listingId":     review.ListingID,
			"rating":        review.Rating,
		},
	})
}
