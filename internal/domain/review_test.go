package domain_test

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

func completedTx() domain.Transaction {
	return domain.Transaction{
		ID:        "tx-1",
		BuyerID:   "buyer",
		SellerID:  "seller",
		ListingID: "listing-1",
		Amount:    decimal.NewFromInt(100),
		Status:    domain.TransactionStatusCompleted,
	}
}

func TestResolveReviewParties(t *testing.T) {
	tx := completedTx()

	reviewed, err := domain.ResolveReviewParties(tx, "buyer", domain.ReviewTypeBuyerToSeller)
	require.NoError(t, err)
	require.Equal(t, "seller", reviewed)

	reviewed, err = domain.ResolveReviewParties(tx, "seller", domain.ReviewTypeSellerToBuyer)
	require.NoError(t, err)
	require.Equal(t, "buyer", reviewed)

	_, err = domain.ResolveReviewParties(tx, "seller", domain.ReviewTypeBuyerToSeller)
	require.ErrorIs(t, err, domain.ErrReviewRoleMismatch)
	require.ErrorIs(t, err, domain.ErrInvalidOperation)

	_, err = domain.ResolveReviewParties(tx, "stranger", domain.ReviewTypeBuyerToSeller)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = domain.ResolveReviewParties(tx, "buyer", domain.ReviewType("Anonymous"))
	require.ErrorIs(t, err, domain.ErrReviewTypeInvalid)
}

func TestValidateReviewContent(t *testing.T) {
	require.NoError(t, domain.ValidateReviewContent(1, ""))
	require.NoError(t, domain.ValidateReviewContent(5, strings.Repeat("я", domain.ReviewCommentMaxLen)))
	require.ErrorIs(t, domain.ValidateReviewContent(0, ""), domain.ErrReviewRatingInvalid)
	require.ErrorIs(t, domain.ValidateReviewContent(6, ""), domain.ErrReviewRatingInvalid)
	require.ErrorIs(t, domain.ValidateReviewContent(3, strings.Repeat("a", domain.ReviewCommentMaxLen+1)), domain.ErrReviewCommentTooLong)
}

func TestReviewEditable(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	review := domain.Review{CreatedAt: created}

	require.True(t, review.Editable(created.Add(time.Hour)))
	require.True(t, review.Editable(created.Add(domain.ReviewEditWindow)))
	require.False(t, review.Editable(created.Add(domain.ReviewEditWindow+time.Second)))
}

func TestListingValidateInvariants(t *testing.T) {
	listing := domain.Listing{SellerID: "seller", Title: "Calculus textbook", Price: decimal.NewFromInt(25)}
	require.Empty(t, listing.ValidateInvariants())

	broken := domain.Listing{Title: "ab", Price: decimal.NewFromInt(-1)}
	errs := broken.ValidateInvariants()
	require.Len(t, errs, 3)
	require.Contains(t, errs, domain.ErrListingSellerRequired)
	require.Contains(t, errs, domain.ErrListingTitleInvalid)
	require.Contains(t, errs, domain.ErrListingPriceNegative)
}
