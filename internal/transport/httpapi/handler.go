package httpapi

import (
	"context"
	"net/http"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/listing"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/review"
)

// Lifecycle: операции координатора, доступные по HTTP.
type Lifecycle interface {
	Reserve(ctx context.Context, listingID string, buyer domain.Actor) (domain.Transaction, error)
	CompleteBySeller(ctx context.Context, transactionID string, actor domain.Actor) (domain.Transaction, error)
	CompleteByBuyer(ctx context.Context, transactionID string, actor domain.Actor) (domain.Transaction, error)
	Cancel(ctx context.Context, transactionID string, actor domain.Actor, reason string) (domain.Transaction, error)
	GetTransaction(ctx context.Context, transactionID string, actor domain.Actor) (domain.Transaction, error)
	ListForUser(ctx context.Context, actor domain.Actor, limit int) ([]domain.Transaction, error)
}

// Listings: управление объявлениями.
type Listings interface {
	Create(ctx context.Context, seller domain.Actor, req listing.CreateRequest) (domain.Listing, error)
	Get(ctx context.Context, id string) (domain.Listing, error)
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]domain.Listing, error)
	Update(ctx context.Context, seller domain.Actor, id string, req listing.UpdateRequest) (domain.Listing, error)
	Remove(ctx context.Context, seller domain.Actor, id string) (domain.Listing, error)
	Hide(ctx context.Context, moderator domain.Actor, id string) (domain.Listing, error)
	Restore(ctx context.Context, moderator domain.Actor, id string) (domain.Listing, error)
}

// Reviews: допуск и чтение отзывов.
type Reviews interface {
	Submit(ctx context.Context, reviewer domain.Actor, req review.SubmitRequest) (domain.Review, error)
	Update(ctx context.Context, actor domain.Actor, reviewID string, req review.UpdateRequest) (domain.Review, error)
	Delete(ctx context.Context, actor domain.Actor, reviewID string) error
	ListForUser(ctx context.Context, userID string) ([]domain.Review, error)
	ListForListing(ctx context.Context, listingID string) ([]domain.Review, error)
}

// Ratings отдаёт производный рейтинг пользователя.
type Ratings interface {
	Rating(ctx context.Context, userID string) (domain.RatingSummary, error)
}

// Realtime подписывает websocket-соединение на уведомления пользователя.
type Realtime interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID string) error
}

// Services: зависимости обработчиков. Timeline и Realtime необязательны.
type Services struct {
	Lifecycle Lifecycle
	Listings  Listings
	Reviews   Reviews
	Ratings   Ratings
	Timeline  domain.TimelineRepository
	Realtime  Realtime
}
