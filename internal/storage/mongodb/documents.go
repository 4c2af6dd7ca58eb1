package mongodb

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

// Цены хранятся в Decimal128, чтобы не терять копейки на float.

type listingDoc struct {
	ID          string               `bson:"_id"`
	SellerID    string               `bson:"seller_id"`
	Title       string               `bson:"title"`
	Description string               `bson:"description"`
	Category    string               `bson:"category"`
	Price       primitive.Decimal128 `bson:"price"`
	Status      string               `bson:"status"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

type transactionDoc struct {
	ID                 string               `bson:"_id"`
	BuyerID            string               `bson:"buyer_id"`
	SellerID           string               `bson:"seller_id"`
	ListingID          string               `bson:"listing_id"`
	Amount             primitive.Decimal128 `bson:"amount"`
	Status             string               `bson:"status"`
	// Active дублирует статус для частичного уникального индекса.
	Active             bool                 `bson:"active"`
	PaymentStatus      string               `bson:"payment_status"`
	ReservationDate    time.Time            `bson:"reservation_date"`
	CompletionDate     *time.Time           `bson:"completion_date,omitempty"`
	CancellationDate   *time.Time           `bson:"cancellation_date,omitempty"`
	CancellationReason string               `bson:"cancellation_reason"`
	CreatedAt          time.Time            `bson:"created_at"`
	UpdatedAt          time.Time            `bson:"updated_at"`
}

type reviewDoc struct {
	ID             string    `bson:"_id"`
	ReviewerID     string    `bson:"reviewer_id"`
	ReviewedUserID string    `bson:"reviewed_user_id"`
	TransactionID  string    `bson:"transaction_id"`
	ListingID      string    `bson:"listing_id"`
	Rating         int       `bson:"rating"`
	Comment        string    `bson:"comment"`
	Type           string    `bson:"type"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

type userDoc struct {
	ID           string    `bson:"_id"`
	Name         string    `bson:"name"`
	Role         string    `bson:"role"`
	Rating       float64   `bson:"rating"`
	TotalReviews int       `bson:"total_reviews"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

type outboxDoc struct {
	ID            string    `bson:"_id"`
	AggregateType string    `bson:"aggregate_type"`
	AggregateID   string    `bson:"aggregate_id"`
	EventType     string    `bson:"event_type"`
	Payload       []byte    `bson:"payload"`
	Status        string    `bson:"status"`
	AttemptCount  int       `bson:"attempt_count"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

type timelineDoc struct {
	AggregateType string    `bson:"aggregate_type"`
	AggregateID   string    `bson:"aggregate_id"`
	Type          string    `bson:"type"`
	ActorID       string    `bson:"actor_id"`
	Reason        string    `bson:"reason"`
	Occurred      time.Time `bson:"occurred"`
}

type idempotencyDoc struct {
	Key          string    `bson:"_id"`
	RequestHash  string    `bson:"request_hash"`
	ResponseBody []byte    `bson:"response_body,omitempty"`
	HTTPStatus   int       `bson:"http_status"`
	Status       string    `bson:"status"`
	TTLAt        time.Time `bson:"ttl_at"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("convert %s to decimal128: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse decimal128 %s: %w", v, err)
	}
	return d, nil
}

func listingToDoc(l domain.Listing) (listingDoc, error) {
	price, err := toDecimal128(l.Price)
	if err != nil {
		return listingDoc{}, err
	}
	return listingDoc{
		ID:          l.ID,
		SellerID:    l.SellerID,
		Title:       l.Title,
		Description: l.Description,
		Category:    l.Category,
		Price:       price,
		Status:      string(l.Status),
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}, nil
}

func (d listingDoc) toDomain() (domain.Listing, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return domain.Listing{}, err
	}
	return domain.Listing{
		ID:          d.ID,
		SellerID:    d.SellerID,
		Title:       d.Title,
		Description: d.Description,
		Category:    d.Category,
		Price:       price,
		Status:      domain.ListingStatus(d.Status),
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}, nil
}

func transactionToDoc(t domain.Transaction) (transactionDoc, error) {
	amount, err := toDecimal128(t.Amount)
	if err != nil {
		return transactionDoc{}, err
	}
	return transactionDoc{
		ID:                 t.ID,
		BuyerID:            t.BuyerID,
		SellerID:           t.SellerID,
		ListingID:          t.ListingID,
		Amount:             amount,
		Status:             string(t.Status),
		Active:             t.Status.Active(),
		PaymentStatus:      string(t.PaymentStatus),
		ReservationDate:    t.ReservationDate,
		CompletionDate:     t.CompletionDate,
		CancellationDate:   t.CancellationDate,
		CancellationReason: t.CancellationReason,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}, nil
}

func (d transactionDoc) toDomain() (domain.Transaction, error) {
	amount, err := fromDecimal128(d.Amount)
	if err != nil {
		return domain.Transaction{}, err
	}
	return domain.Transaction{
		ID:                 d.ID,
		BuyerID:            d.BuyerID,
		SellerID:           d.SellerID,
		ListingID:          d.ListingID,
		Amount:             amount,
		Status:             domain.TransactionStatus(d.Status),
		PaymentStatus:      domain.PaymentStatus(d.PaymentStatus),
		ReservationDate:    d.ReservationDate.UTC(),
		CompletionDate:     utcPtr(d.CompletionDate),
		CancellationDate:   utcPtr(d.CancellationDate),
		CancellationReason: d.CancellationReason,
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
	}, nil
}

func reviewToDoc(r domain.Review) reviewDoc {
	return reviewDoc{
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

func (d reviewDoc) toDomain() domain.Review {
	return domain.Review{
		ID:             d.ID,
		ReviewerID:     d.ReviewerID,
		ReviewedUserID: d.ReviewedUserID,
		TransactionID:  d.TransactionID,
		ListingID:      d.ListingID,
		Rating:         d.Rating,
		Comment:        d.Comment,
		Type:           domain.ReviewType(d.Type),
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func containsIndex(message, index string) bool {
	return strings.Contains(message, index)
}
