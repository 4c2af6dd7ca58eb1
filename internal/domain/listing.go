package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// ListingStatus описывает доступность объявления.
type ListingStatus string

const (
	// ListingStatusAvailable: объявление можно зарезервировать.
	ListingStatusAvailable ListingStatus = "Available"
	// ListingStatusReserved: есть ровно одна активная сделка.
	ListingStatusReserved ListingStatus = "Reserved"
	// ListingStatusSold: сделка завершена, состояние необратимо.
	ListingStatusSold ListingStatus = "Sold"
	// ListingStatusHidden: скрыто модератором.
	ListingStatusHidden ListingStatus = "Hidden"
	// ListingStatusRemoved: снято продавцом, состояние необратимо.
	ListingStatusRemoved ListingStatus = "Removed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingStatusAvailable, ListingStatusReserved, ListingStatusSold, ListingStatusHidden, ListingStatusRemoved:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса нет переходов в обычном потоке.
func (s ListingStatus) Terminal() bool {
	return s == ListingStatusSold || s == ListingStatusRemoved
}

// Listing: объявление на маркетплейсе.
type Listing struct {
	ID          string
	SellerID    string
	Title       string
	Description string
	Category    string
	Price       decimal.Decimal
	Status      ListingStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidateInvariants проверяет базовые инварианты объявления и возвращает список замечаний.
func (l *Listing) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(l.SellerID) == "" {
		errs = append(errs, ErrListingSellerRequired)
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(l.Title)); n < 3 || n > 100 {
		errs = append(errs, ErrListingTitleInvalid)
	}
	if l.Price.IsNegative() {
		errs = append(errs, ErrListingPriceNegative)
	}

	return errs
}
