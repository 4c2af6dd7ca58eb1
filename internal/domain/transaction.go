package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus описывает жизненный цикл сделки.
type TransactionStatus string

const (
	// TransactionStatusInitiated: сделка создана, но резерв ещё не подтверждён.
	TransactionStatusInitiated TransactionStatus = "Initiated"
	// TransactionStatusReserved: покупатель зарезервировал объявление.
	TransactionStatusReserved TransactionStatus = "Reserved"
	// TransactionStatusCompleted: сделка завершена, объявление продано.
	TransactionStatusCompleted TransactionStatus = "Completed"
	// TransactionStatusCancelled: сделка отменена одной из сторон.
	TransactionStatusCancelled TransactionStatus = "Cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusInitiated, TransactionStatusReserved, TransactionStatusCompleted, TransactionStatusCancelled:
		return true
	default:
		return false
	}
}

// Active сообщает, что сделка ещё держит объявление.
func (s TransactionStatus) Active() bool {
	return s == TransactionStatusInitiated || s == TransactionStatusReserved
}

// Terminal сообщает, что сделка неизменяема.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusCancelled
}

// PaymentStatus идёт синхронно со статусом сделки.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "Pending"
	PaymentStatusCompleted PaymentStatus = "Completed"
	PaymentStatusCancelled PaymentStatus = "Cancelled"
)

// PaymentStatusFor выводит статус оплаты из статуса сделки.
func PaymentStatusFor(s TransactionStatus) PaymentStatus {
	switch s {
	case TransactionStatusCompleted:
		return PaymentStatusCompleted
	case TransactionStatusCancelled:
		return PaymentStatusCancelled
	default:
		return PaymentStatusPending
	}
}

// DefaultCancellationReason подставляется, если причина отмены не указана.
const DefaultCancellationReason = "Cancelled by user"

// Transaction: притязание покупателя на объявление.
type Transaction struct {
	ID              string
	BuyerID         string
	SellerID        string
	ListingID       string
	Amount          decimal.Decimal
	Status          TransactionStatus
	PaymentStatus   PaymentStatus
	ReservationDate time.Time
	// CompletionDate и CancellationDate заполняются только при терминальном переходе.
	CompletionDate     *time.Time
	CancellationDate   *time.Time
	CancellationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Party сообщает, является ли пользователь покупателем или продавцом сделки.
func (t *Transaction) Party(userID string) bool {
	return userID != "" && (userID == t.BuyerID || userID == t.SellerID)
}

// Counterparty возвращает вторую сторону сделки.
func (t *Transaction) Counterparty(userID string) string {
	if userID == t.BuyerID {
		return t.SellerID
	}
	return t.BuyerID
}

// Apply применяет операцию из таблицы переходов и проставляет сопутствующие поля.
// Возвращает новую копию; исходная сделка не меняется.
func (t Transaction) Apply(op TransactionOp, at time.Time, reason string) (Transaction, error) {
	next, err := NextTransactionStatus(t.Status, op)
	if err != nil {
		return Transaction{}, err
	}

	t.Status = next
	t.PaymentStatus = PaymentStatusFor(next)
	t.UpdatedAt = at
	switch next {
	case TransactionStatusCompleted:
		completed := at
		t.CompletionDate = &completed
	case TransactionStatusCancelled:
		cancelled := at
		t.CancellationDate = &cancelled
		if reason == "" {
			reason = DefaultCancellationReason
		}
		t.CancellationReason = reason
	}
	return t, nil
}
