package domain

import (
	"time"
	"unicode/utf8"
)

// ReviewType определяет, кто кого оценивает.
type ReviewType string

const (
	ReviewTypeBuyerToSeller ReviewType = "BuyerToSeller"
	ReviewTypeSellerToBuyer ReviewType = "SellerToBuyer"
)

const (
	// ReviewEditWindow: сколько отзыв можно редактировать после создания.
	ReviewEditWindow = 7 * 24 * time.Hour
	// ReviewCommentMaxLen: максимальная длина комментария в символах.
	ReviewCommentMaxLen = 500
	ReviewRatingMin     = 1
	ReviewRatingMax     = 5
)

// Valid проверяет, что тип поддерживается.
func (t ReviewType) Valid() bool {
	return t == ReviewTypeBuyerToSeller || t == ReviewTypeSellerToBuyer
}

// Review: оценка одной стороны сделки другой.
type Review struct {
	ID             string
	ReviewerID     string
	ReviewedUserID string
	TransactionID  string
	ListingID      string
	Rating         int
	Comment        string
	Type           ReviewType
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Editable сообщает, открыто ли окно редактирования на момент now.
func (r *Review) Editable(now time.Time) bool {
	return !now.After(r.CreatedAt.Add(ReviewEditWindow))
}

// ResolveReviewParties сверяет тип отзыва с ролью автора в сделке
// и возвращает идентификатор оцениваемого пользователя.
func ResolveReviewParties(tx Transaction, reviewerID string, reviewType ReviewType) (string, error) {
	if !reviewType.Valid() {
		return "", ErrReviewTypeInvalid
	}
	if !tx.Party(reviewerID) {
		return "", ErrNotTransactionParty
	}

	switch reviewType {
	case ReviewTypeBuyerToSeller:
		if reviewerID != tx.BuyerID {
			return "", ErrReviewRoleMismatch
		}
		return tx.SellerID, nil
	default:
		if reviewerID != tx.SellerID {
			return "", ErrReviewRoleMismatch
		}
		return tx.BuyerID, nil
	}
}

// ValidateReviewContent проверяет оценку и комментарий.
func ValidateReviewContent(rating int, comment string) error {
	if rating < ReviewRatingMin || rating > ReviewRatingMax {
		return ErrReviewRatingInvalid
	}
	if utf8.RuneCountInString(comment) > ReviewCommentMaxLen {
		return ErrReviewCommentTooLong
	}
	return nil
}
