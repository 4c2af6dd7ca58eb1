package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

type reserveRequest struct {
	ListingID string `json:"listingId" binding:"required"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type createListingRequest struct {
	Title       string          `json:"title" binding:"required"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
}

type updateListingRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Category    *string          `json:"category"`
	Price       *decimal.Decimal `json:"price"`
}

type submitReviewRequest struct {
	TransactionID string `json:"transactionId" binding:"required"`
	Type          string `json:"type" binding:"required"`
	Rating        int    `json:"rating"`
	Comment       string `json:"comment"`
}

type updateReviewRequest struct {
	Rating  *int    `json:"rating"`
	Comment *string `json:"comment"`
}

type listingResponse struct {
	ID          string          `json:"id"`
	SellerID    string          `json:"sellerId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func toListingResponse(l domain.Listing) listingResponse {
	return listingResponse{
		ID:          l.ID,
		SellerID:    l.SellerID,
		Title:       l.Title,
		Description: l.Description,
		Category:    l.Category,
		Price:       l.Price,
		Status:      string(l.Status),
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

type transactionResponse struct {
	ID                 string          `json:"id"`
	BuyerID            string          `json:"buyerId"`
	SellerID           string          `json:"sellerId"`
	ListingID          string          `json:"listingId"`
	Amount             decimal.Decimal `json:"amount"`
	Status             string          `json:"status"`
	PaymentStatus      string          `json:"paymentStatus"`
	ReservationDate    time.Time       `json:"reservationDate"`
	CompletionDate     *time.Time      `json:"completionDate,omitempty"`
	CancellationDate   *time.Time      `json:"cancellationDate,omitempty"`
	CancellationReason string          `json:"cancellationReason,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

func toTransactionResponse(t domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:                 t.ID,
		BuyerID:            t.BuyerID,
		SellerID:           t.SellerID,
		ListingID:          t.ListingID,
		Amount:             t.Amount,
		Status:             string(t.Status),
		PaymentStatus:      string(t.PaymentStatus),
		ReservationDate:    t.ReservationDate,
		CompletionDate:     t.CompletionDate,
		CancellationDate:   t.CancellationDate,
		CancellationReason: t.CancellationReason,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

type reviewResponse struct {
	ID             string    `json:"id"`
	ReviewerID     string    `json:"reviewerId"`
	ReviewedUserID string    `json:"reviewedUserId"`
	TransactionID  string    `json:"transactionId"`
	ListingID      string    `json:"listingId"`
	Rating         int       `json:"rating"`
	Comment        string    `json:"comment"`
	Type           string    `json:"type"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toReviewResponse(r domain.Review) reviewResponse {
	return reviewResponse{
		ID:             r.ID,
		ReviewerID:     r.ReviewerID,
		ReviewedUserID: r.ReviewedUserID,
		TransactionID:  r.TransactionID,
		ListingID:      r.ListingID,
		Rating:         r.Rating,
		Comment:        r.Comment,
		Type:           string(r.Type),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type ratingResponse struct {
	UserID       string  `json:"userId"`
	Rating       float64 `json:"rating"`
	TotalReviews int     `json:"totalReviews"`
}

type timelineResponse struct {
	Type     string    `json:"type"`
	ActorID  string    `json:"actorId,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

func mapSlice[T, R any](items []T, fn func(T) R) []R {
	result := make([]R, 0, len(items))
	for _, item := range items {
		result = append(result, fn(item))
	}
	return result
}
