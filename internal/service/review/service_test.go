package review_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/rating"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/review"
	"github.com/vladislavdragonenkov/campusmarket/internal/storage/memory"
)

var (
	seller   = domain.Actor{ID: "seller-1", Verified: true}
	buyer    = domain.Actor{ID: "buyer-1", Verified: true}
	stranger = domain.Actor{ID: "stranger", Verified: true}
	admin    = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin, Verified: true}
)

type env struct {
	ctx     context.Context
	store   *memory.Store
	coord   *lifecycle.Coordinator
	ratings *rating.Aggregator
	reviews *review.Service
	now     time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		ctx:   context.Background(),
		store: memory.NewStore(),
		now:   time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return e.now }
	e.coord = lifecycle.NewCoordinator(e.store, e.store.Transactions(), lifecycle.WithClock(clock))
	e.ratings = rating.NewAggregator(e.store.Reviews(), e.store.Users(), rating.WithClock(clock))
	e.reviews = review.NewService(e.store.Reviews(), e.store.Transactions(), e.ratings,
		review.WithTimeline(e.store.Timeline()),
		review.WithClock(clock),
	)
	return e
}

// transaction проводит объявление через резерв и, при complete, завершение.
func (e *env) transaction(t *testing.T, listingID string, complete bool) domain.Transaction {
	t.Helper()
	e.store.PutListing(domain.Listing{
		ID:       listingID,
		SellerID: seller.ID,
		Title:    "Physics notes",
		Price:    decimal.NewFromInt(100),
		Status:   domain.ListingStatusAvailable,
	})
	tx, err := e.coord.Reserve(e.ctx, listingID, buyer)
	require.NoError(t, err)
	if complete {
		tx, err = e.coord.CompleteBySeller(e.ctx, tx.ID, seller)
		require.NoError(t, err)
	}
	return tx
}

func (e *env) rating(t *testing.T, userID string) domain.RatingSummary {
	t.Helper()
	summary, err := e.ratings.Rating(e.ctx, userID)
	require.NoError(t, err)
	return summary
}

func TestSubmitUpdatesSellerRating(t *testing.T) {
	e := newEnv(t)
	tx := e.transaction(t, "listing-1", true)

	created, err := e.reviews.Submit(e.ctx, buyer, review.SubmitRequest{
		TransactionID: tx.ID,
		Type:          domain.ReviewTypeBuyerToSeller,
		Rating:        5,
		Comment:       "Great seller",
	})
	require.NoError(t, err)
	assert.Equal(t, seller.ID, created.ReviewedUserID)
	assert.Equal(t, tx.ListingID, created.ListingID)

	summary := e.rating(t, seller.ID)
	assert.InDelta(t, 5.0, summary.Rating, 1e-9)
	assert.Equal(t, 1, summary.TotalReviews)

	history, err := e.store.Timeline().List(e.ctx, domain.AggregateReview, created.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.EventReviewSubmitted, history[0].Type)
}

func TestSubmitDuplicateConflicts(t *testing.T) {
	e := newEnv(t)
	tx := e.transaction(t, "listing-1", true)
	req := review.SubmitRequest{TransactionID: tx.ID, Type: domain.ReviewTypeBuyerToSeller, Rating: 5}

	_, err := e.reviews.Submit(e.ctx, buyer, req)
	require.NoError(t, err)

	req.Rating = 1
	_, err = e.reviews.Submit(e.ctx, buyer, req)
	require.ErrorIs(t, err, domain.ErrDuplicateReview)
	require.ErrorIs(t, err, domain.ErrConflict)

	list, err := e.reviews.ListForUser(e.ctx, seller.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.InDelta(t, 5.0, e.rating(t, seller.ID).Rating, 1e-9)

	// Продавец может оставить свой отзыв по той же сделке.
	_, err = e.reviews.Submit(e.ctx, seller, review.SubmitRequest{TransactionID: tx.ID, Type: domain.ReviewTypeSellerToBuyer, Rating: 4})
	require.NoError(t, err)
	assert.InDelta(t, 4.0, e.rating(t, buyer.ID).Rating, 1e-9)
}

func TestSubmitConcurrentDuplicatesHaveSingleWinner(t *testing.T) {
	e := newEnv(t)
	tx := e.transaction(t, "listing-1", true)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.reviews.Submit(e.ctx, buyer, review.SubmitRequest{TransactionID: tx.ID, Type: domain.ReviewTypeBuyerToSeller, Rating: 3})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if assert.ErrorIs(t, err, domain.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicts)
	assert.Equal(t, 1, e.rating(t, seller.ID).TotalReviews)
}

func TestSubmitRejections(t *testing.T) {
	e := newEnv(t)
	completed := e.transaction(t, "listing-1", true)
	open := e.transaction(t, "listing-2", false)

	cases := []struct {
		name    string
		actor   domain.Actor
		req     review.SubmitRequest
		wantErr error
	}{
		{name: "missing transaction", actor: buyer, req: review.SubmitRequest{TransactionID: "missing", Type: domain.ReviewTypeBuyerToSeller, Rating: 5}, wantErr: domain.ErrNotFound},
		{name: "not completed", actor: buyer, req: review.SubmitRequest{TransactionID: open.ID, Type: domain.ReviewTypeBuyerToSeller, Rating: 5}, wantErr: domain.ErrReviewNotCompleted},
		{name: "not a party", actor: stranger, req: review.SubmitRequest{TransactionID: completed.ID, Type: domain.ReviewTypeBuyerToSeller, Rating: 5}, wantErr: domain.ErrForbidden},
		{name: "role mismatch", actor: seller, req: review.SubmitRequest{TransactionID: completed.ID, Type: domain.ReviewTypeBuyerToSeller, Rating: 5}, wantErr: domain.ErrReviewRoleMismatch},
		{name: "unknown type", actor: buyer, req: review.SubmitRequest{TransactionID: completed.ID, Type: "Anonymous", Rating: 5}, wantErr: domain.ErrInvalidOperation},
		{name: "rating too high", actor: buyer, req: review.SubmitRequest{TransactionID: completed.ID, Type: domain.ReviewTypeBuyerToSeller, Rating: 6}, wantErr: domain.ErrReviewRatingInvalid},
		{name: "comment too long", actor: buyer, req: review.SubmitRequest{TransactionID: completed.ID, Type: domain.ReviewTypeBuyerToSeller, Rating: 4, Comment: strings.Repeat("x", 501)}, wantErr: domain.ErrReviewCommentTooLong},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.reviews.Submit(e.ctx, tc.actor, tc.req)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}

	assert.Zero(t, e.rating(t, seller.ID).TotalReviews)
}

func TestUpdateWithinWindow(t *testing.T) {
	e := newEnv(t)
	tx := e.transaction(t, "listing-1", true)
	created, err := e.reviews.Submit(e.ctx, buyer, review.SubmitRequest{TransactionID: tx.ID, Type: domain.ReviewTypeBuyerToSeller, Rating: 2, Comment: "slow"})
	require.NoError(t, err)

	newRating := 4
	e.now = e.now.Add(24 * time.Hour)
	updated, err := e.reviews.Update(e.ctx, buyer, created.ID, review.UpdateRequest{Rating: &newRating})
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Rating)
	assert.Equal(t, "slow", updated.Comment, "absent fields keep stored values")
	assert.InDelta(t, 4.0, e.rating(t, seller.ID).Rating, 1e-9)

	_, err = e.reviews.Update(e.ctx, seller, created.ID, review.UpdateRequest{Rating: &newRating})
	require.ErrorIs(t, err, domain.ErrNotReviewAuthor)

	invalid := 0
	_, err = e.reviews.Update(e.ctx, buyer, created.ID, review.UpdateRequest{Rating: &invalid})
	require.ErrorIs(t, err, domain.ErrInvalidOperation)

	e.now = created.CreatedAt.Add(domain.ReviewEditWindow + time.Minute)
	comment := "late edit"
	_, err = e.reviews.Update(e.ctx, buyer, created.ID, review.UpdateRequest{Comment: &comment})
	require.ErrorIs(t, err, domain.ErrExpired)

	_, err = e.reviews.Update(e.ctx, buyer, "missing", review.UpdateRequest{Comment: &comment})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteByAuthorOrAdmin(t *testing.T) {
	e := newEnv(t)
	first := e.transaction(t, "listing-1", true)
	second := e.transaction(t, "listing-2", true)

	r1, err := e.reviews.Submit(e.ctx, buyer, review.SubmitRequest{TransactionID: first.ID, Type: domain.ReviewTypeBuyerToSeller, Rating: 5})
	require.NoError(t, err)
	r2, err := e.reviews.Submit(e.ctx, buyer, review.SubmitRequest{TransactionID: second.ID, Type: domain.ReviewTypeBuyerToSeller, Rating: 2})
	require.NoError(t, err)
	assert.InDelta(t, 3.5, e.rating(t, seller.ID).Rating, 1e-9)

	require.ErrorIs(t, e.reviews.Delete(e.ctx, seller, r1.ID), domain.ErrForbidden)

	require.NoError(t, e.reviews.Delete(e.ctx, buyer, r1.ID))
	assert.InDelta(t, 2.0, e.rating(t, seller.ID).Rating, 1e-9)

	require.NoError(t, e.reviews.Delete(e.ctx, admin, r2.ID))
	summary := e.rating(t, seller.ID)
	assert.Zero(t, summary.Rating)
	assert.Zero(t, summary.TotalReviews)

	require.ErrorIs(t, e.reviews.Delete(e.ctx, buyer, r1.ID), domain.ErrNotFound)
}

func TestListForListing(t *testing.T) {
	e := newEnv(t)
	tx := e.transaction(t, "listing-1", true)

	_, err := e.reviews.Submit(e.ctx, buyer, review.SubmitRequest{TransactionID: tx.ID, Type: domain.ReviewTypeBuyerToSeller, Rating: 5})
	require.NoError(t, err)
	e.now = e.now.Add(time.Minute)
	second, err := e.reviews.Submit(e.ctx, seller, review.SubmitRequest{TransactionID: tx.ID, Type: domain.ReviewTypeSellerToBuyer, Rating: 4})
	require.NoError(t, err)

	list, err := e.reviews.ListForListing(e.ctx, "listing-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
}
