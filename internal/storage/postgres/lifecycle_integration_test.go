package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

func newReservedTx(listing domain.Listing, buyerID string) domain.Transaction {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return domain.Transaction{
		ID:              uuid.NewString(),
		BuyerID:         buyerID,
		SellerID:        listing.SellerID,
		ListingID:       listing.ID,
		Amount:          listing.Price,
		Status:          domain.TransactionStatusReserved,
		PaymentStatus:   domain.PaymentStatusPending,
		ReservationDate: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func reserve(ctx context.Context, store *Store, listing domain.Listing, buyerID string) error {
	return store.RunInTx(ctx, func(ctx context.Context, tx domain.LifecycleTx) error {
		if err := tx.SwapListingStatus(ctx, listing.ID, domain.ListingStatusAvailable, domain.ListingStatusReserved, time.Now().UTC()); err != nil {
			return err
		}
		reserved := newReservedTx(listing, buyerID)
		if err := tx.InsertTransaction(ctx, reserved); err != nil {
			return err
		}
		return tx.EnqueueOutbox(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateTransaction,
			AggregateID:   reserved.ID,
			EventType:     "TransactionReserved",
			Payload:       []byte(`{}`),
		})
	})
}

func TestLifecycleTx_PostgresConcurrentReserveHasSingleWinner(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	listing := seedAvailableListing(t, store, "listing-race")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const buyers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := reserve(ctx, store, listing, uuid.NewString())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected reserve error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, buyers-1, conflicts)

	got, err := store.Listings().Get(ctx, listing.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ListingStatusReserved, got.Status)

	stats, err := store.Outbox().Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount, "losers must not leave outbox rows")
}

func TestLifecycleTx_PostgresRollbackAndConditionalUpdate(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	listing := seedAvailableListing(t, store, "listing-rollback")
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(ctx context.Context, tx domain.LifecycleTx) error {
		if err := tx.SwapListingStatus(ctx, listing.ID, domain.ListingStatusAvailable, domain.ListingStatusReserved, time.Now().UTC()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Listings().Get(ctx, listing.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ListingStatusAvailable, got.Status)

	require.NoError(t, reserve(ctx, store, listing, "buyer-1"))
	txs, err := store.Transactions().ListByUser(ctx, "buyer-1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	err = store.RunInTx(ctx, func(ctx context.Context, tx domain.LifecycleTx) error {
		current, err := tx.FindActiveTransaction(ctx, listing.ID)
		if err != nil {
			return err
		}
		completed, err := current.Apply(domain.TransactionOpComplete, time.Now().UTC(), "")
		if err != nil {
			return err
		}
		return tx.UpdateTransaction(ctx, completed, domain.TransactionStatusInitiated)
	})
	require.ErrorIs(t, err, domain.ErrTransactionStatusChanged)

	err = store.RunInTx(ctx, func(ctx context.Context, tx domain.LifecycleTx) error {
		return tx.SwapListingStatus(ctx, "missing", domain.ListingStatusAvailable, domain.ListingStatusReserved, time.Now().UTC())
	})
	require.ErrorIs(t, err, domain.ErrListingNotFound)
}

func TestRepositories_PostgresListingReviewAndRating(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	listing := seedAvailableListing(t, store, "listing-repos")

	require.ErrorIs(t, store.Listings().Create(ctx, listing), domain.ErrListingAlreadyExists)

	listing.Title = "Linear algebra notes v2"
	listing.Price = decimal.RequireFromString("9.99")
	require.NoError(t, store.Listings().UpdateDetails(ctx, listing))
	got, err := store.Listings().Get(ctx, listing.ID)
	require.NoError(t, err)
	require.True(t, got.Price.Equal(decimal.RequireFromString("9.99")))

	require.NoError(t, reserve(ctx, store, listing, "buyer-1"))
	require.ErrorIs(t, store.Listings().UpdateDetails(ctx, listing), domain.ErrListingLocked)

	txs, err := store.Transactions().ListByUser(ctx, "seller-1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	active, err := store.Transactions().HasActive(ctx, listing.ID)
	require.NoError(t, err)
	require.True(t, active)

	now := time.Now().UTC().Truncate(time.Microsecond)
	review := domain.Review{
		ID:             uuid.NewString(),
		ReviewerID:     "buyer-1",
		ReviewedUserID: "seller-1",
		TransactionID:  txs[0].ID,
		ListingID:      listing.ID,
		Rating:         4,
		Comment:        "quick handover",
		Type:           domain.ReviewTypeBuyerToSeller,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.Reviews().Create(ctx, review))
	duplicate := review
	duplicate.ID = uuid.NewString()
	require.ErrorIs(t, store.Reviews().Create(ctx, duplicate), domain.ErrDuplicateReview)

	reviews, err := store.Reviews().ListByReviewedUser(ctx, "seller-1")
	require.NoError(t, err)
	require.Len(t, reviews, 1)

	require.NoError(t, store.Users().SaveRating(ctx, domain.RatingSummary{UserID: "seller-1", Rating: 4, TotalReviews: 1}, now))
	require.NoError(t, store.Users().SaveRating(ctx, domain.RatingSummary{UserID: "seller-1", Rating: 4.5, TotalReviews: 2}, now))
	user, err := store.Users().Get(ctx, "seller-1")
	require.NoError(t, err)
	require.Equal(t, 4.5, user.Rating)
	require.Equal(t, 2, user.TotalReviews)

	require.NoError(t, store.Reviews().Delete(ctx, review.ID))
	require.ErrorIs(t, store.Reviews().Delete(ctx, review.ID), domain.ErrReviewNotFound)
}

func TestOutboxTimelineIdempotency_Postgres(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()

	first, err := store.Outbox().Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.AggregateListing, AggregateID: "l-1", EventType: "ListingReserved"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	_, err = store.Outbox().Enqueue(ctx, domain.OutboxMessage{ID: "fixed", AggregateType: domain.AggregateListing, AggregateID: "l-2"})
	require.NoError(t, err)

	pending, err := store.Outbox().PullPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.NoError(t, store.Outbox().MarkSent(ctx, first.ID))
	require.ErrorIs(t, store.Outbox().MarkFailed(ctx, "missing"), domain.ErrOutboxPublish)

	occurred := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.Timeline().Append(ctx, domain.TimelineEvent{AggregateType: domain.AggregateListing, AggregateID: "l-1", Type: "ListingReserved", ActorID: "buyer", Occurred: occurred}))
	events, err := store.Timeline().List(ctx, domain.AggregateListing, "l-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "buyer", events[0].ActorID)

	idem := store.Idempotency()
	_, err = idem.CreateProcessing(ctx, "idem-1", "hash-a", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	_, err = idem.CreateProcessing(ctx, "idem-1", "hash-b", time.Now().UTC().Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	require.NoError(t, idem.MarkDone(ctx, "idem-1", []byte(`{"ok":true}`), 201))
	record, err := idem.Get(ctx, "idem-1")
	require.NoError(t, err)
	require.Equal(t, 201, record.HTTPStatus)
	require.JSONEq(t, `{"ok":true}`, string(record.ResponseBody))

	_, err = idem.CreateProcessing(ctx, "idem-stale", "hash", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	reused, err := idem.CreateProcessing(ctx, "idem-stale", "hash-new", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "hash-new", reused.RequestHash)

	removed, err := idem.DeleteExpired(ctx, time.Now().UTC().Add(2*time.Hour), 0)
	require.NoError(t, err)
	require.Equal(t, 2, removed)
}
