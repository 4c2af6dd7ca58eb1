package postgres

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

const (
	listingColumns     = `id, seller_id, title, description, category, price, status, created_at, updated_at`
	transactionColumns = `id, buyer_id, seller_id, listing_id, amount, status, payment_status,
		reservation_date, completion_date, cancellation_date, cancellation_reason, created_at, updated_at`
	reviewColumns = `id, reviewer_id, reviewed_user_id, transaction_id, listing_id, rating, comment, type, created_at, updated_at`
)

type listingRow struct {
	ID          string          `db:"id"`
	SellerID    string          `db:"seller_id"`
	Title       string          `db:"title"`
	Description string          `db:"description"`
	Category    string          `db:"category"`
	Price       decimal.Decimal `db:"price"`
	Status      string          `db:"status"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func listingToRow(l domain.Listing) listingRow {
	return listingRow{
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

func (r listingRow) toDomain() domain.Listing {
	return domain.Listing{
		ID:          r.ID,
		SellerID:    r.SellerID,
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		Price:       r.Price,
		Status:      domain.ListingStatus(r.Status),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type transactionRow struct {
	ID                 string          `db:"id"`
	BuyerID            string          `db:"buyer_id"`
	SellerID           string          `db:"seller_id"`
	ListingID          string          `db:"listing_id"`
	Amount             decimal.Decimal `db:"amount"`
	Status             string          `db:"status"`
	PaymentStatus      string          `db:"payment_status"`
	ReservationDate    time.Time       `db:"reservation_date"`
	CompletionDate     sql.NullTime    `db:"completion_date"`
	CancellationDate   sql.NullTime    `db:"cancellation_date"`
	CancellationReason string          `db:"cancellation_reason"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

func transactionToRow(t domain.Transaction) transactionRow {
	return transactionRow{
		ID:                 t.ID,
		BuyerID:            t.BuyerID,
		SellerID:           t.SellerID,
		ListingID:          t.ListingID,
		Amount:             t.Amount,
		Status:             string(t.Status),
		PaymentStatus:      string(t.PaymentStatus),
		ReservationDate:    t.ReservationDate,
		CompletionDate:     nullTime(t.CompletionDate),
		CancellationDate:   nullTime(t.CancellationDate),
		CancellationReason: t.CancellationReason,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

func (r transactionRow) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:                 r.ID,
		BuyerID:            r.BuyerID,
		SellerID:           r.SellerID,
		ListingID:          r.ListingID,
		Amount:             r.Amount,
		Status:             domain.TransactionStatus(r.Status),
		PaymentStatus:      domain.PaymentStatus(r.PaymentStatus),
		ReservationDate:    r.ReservationDate.UTC(),
		CompletionDate:     timePtr(r.CompletionDate),
		CancellationDate:   timePtr(r.CancellationDate),
		CancellationReason: r.CancellationReason,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

type reviewRow struct {
	ID             string    `db:"id"`
	ReviewerID     string    `db:"reviewer_id"`
	ReviewedUserID string    `db:"reviewed_user_id"`
	TransactionID  string    `db:"transaction_id"`
	ListingID      string    `db:"listing_id"`
	Rating         int       `db:"rating"`
	Comment        string    `db:"comment"`
	Type           string    `db:"type"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func reviewToRow(r domain.Review) reviewRow {
	return reviewRow{
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

func (r reviewRow) toDomain() domain.Review {
	return domain.Review{
		ID:             r.ID,
		ReviewerID:     r.ReviewerID,
		ReviewedUserID: r.ReviewedUserID,
		TransactionID:  r.TransactionID,
		ListingID:      r.ListingID,
		Rating:         r.Rating,
		Comment:        r.Comment,
		Type:           domain.ReviewType(r.Type),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
