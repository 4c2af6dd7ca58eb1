package listing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

const defaultListLimit = 100

// Lifecycle: операции координатора, которые нужны объявлениям.
type Lifecycle interface {
	HasActiveTransaction(ctx context.Context, listingID string) (bool, error)
	RemoveListing(ctx context.Context, listingID string, actor domain.Actor) (domain.Listing, error)
	HideListing(ctx context.Context, listingID string, actor domain.Actor) (domain.Listing, error)
	RestoreListing(ctx context.Context, listingID string, actor domain.Actor) (domain.Listing, error)
}

// CreateRequest: поля нового объявления.
type CreateRequest struct {
	Title       string
	Description string
	Category    string
	Price       decimal.Decimal
}

// UpdateRequest: частичное обновление описательных полей.
type UpdateRequest struct {
	Title       *string
	Description *string
	Category    *string
	Price       *decimal.Decimal
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTimeline включает запись истории объявлений.
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

// Service управляет описанием объявлений. Статус меняет только координатор.
type Service struct {
	listings  domain.ListingRepository
	lifecycle Lifecycle
	timeline  domain.TimelineRepository
	logger    *log.Entry
	now       func() time.Time
}

// NewService создаёт сервис объявлений.
func NewService(listings domain.ListingRepository, lifecycle Lifecycle, options ...Option) *Service {
	s := &Service{
		listings:  listings,
		lifecycle: lifecycle,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "listing")
	}
	return s
}

// Create публикует объявление продавца в статусе Available.
func (s *Service) Create(ctx context.Context, seller domain.Actor, req CreateRequest) (domain.Listing, error) {
	now := s.now()
	listing := domain.Listing{
		ID:          uuid.NewString(),
		SellerID:    seller.ID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Status:      domain.ListingStatusAvailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if errs := listing.ValidateInvariants(); len(errs) > 0 {
		return domain.Listing{}, errors.Join(errs...)
	}
	if err := s.listings.Create(ctx, listing); err != nil {
		return domain.Listing{}, err
	}

	s.appendTimeline(ctx, listing.ID, domain.EventListingCreated, seller.ID)
	s.logger.WithFields(log.Fields{"listing_id": listing.ID, "actor_id": seller.ID}).Info("listing created")
	return listing, nil
}

// Get возвращает объявление.
func (s *Service) Get(ctx context.Context, id string) (domain.Listing, error) {
	return s.listings.Get(ctx, id)
}

// ListBySeller возвращает объявления продавца, новые первыми.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, limit int) ([]domain.Listing, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.listings.ListBySeller(ctx, sellerID, limit)
}

// Update меняет описание, пока объявление Available и не держится сделкой.
func (s *Service) Update(ctx context.Context, seller domain.Actor, id string, req UpdateRequest) (domain.Listing, error) {
	listing, err := s.listings.Get(ctx, id)
	if err != nil {
		return domain.Listing{}, err
	}
	if listing.SellerID != seller.ID {
		return domain.Listing{}, domain.ErrNotSeller
	}
	if listing.Status != domain.ListingStatusAvailable {
		return domain.Listing{}, domain.ErrListingLocked
	}
	active, err := s.lifecycle.HasActiveTransaction(ctx, id)
	if err != nil {
		return domain.Listing{}, err
	}
	if active {
		return domain.Listing{}, domain.ErrListingLocked
	}

	if req.Title != nil {
		listing.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		listing.Description = *req.Description
	}
	if req.Category != nil {
		listing.Category = *req.Category
	}
	if req.Price != nil {
		listing.Price = *req.Price
	}
	if errs := listing.ValidateInvariants(); len(errs) > 0 {
		return domain.Listing{}, errors.Join(errs...)
	}
	listing.UpdatedAt = s.now()

	// Хранилище повторяет проверку статуса в самой записи.
	if err := s.listings.UpdateDetails(ctx, listing); err != nil {
		return domain.Listing{}, err
	}

	s.appendTimeline(ctx, listing.ID, domain.EventListingUpdated, seller.ID)
	return listing, nil
}

// Remove снимает объявление через координатор.
func (s *Service) Remove(ctx context.Context, seller domain.Actor, id string) (domain.Listing, error) {
	return s.lifecycle.RemoveListing(ctx, id, seller)
}

// Hide скрывает объявление модератором.
func (s *Service) Hide(ctx context.Context, moderator domain.Actor, id string) (domain.Listing, error) {
	return s.lifecycle.HideListing(ctx, id, moderator)
}

// Restore возвращает скрытое объявление.
func (s *Service) Restore(ctx context.Context, moderator domain.Actor, id string) (domain.Listing, error) {
	return s.lifecycle.RestoreListing(ctx, id, moderator)
}

func (s *Service) appendTimeline(ctx context.Context, listingID, eventType, actorID string) {
	if s.timeline == nil {
		return
	}
	err := s.timeline.Append(ctx, domain.TimelineEvent{
		AggregateType: domain.AggregateListing,
		AggregateID:   listingID,
		Type:          eventType,
		ActorID:       actorID,
		Occurred:      s.now(),
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"listing_id": listingID,
			"event":      eventType,
		}).Warn("append timeline event failed")
	}
}
