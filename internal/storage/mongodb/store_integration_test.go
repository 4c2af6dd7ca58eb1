package mongodb

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

// Транзакции MongoDB требуют replica set, поэтому без явного URI тест пропускается.
func openMongoStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	uri := strings.TrimSpace(os.Getenv("CAMPUSMARKET_MONGO_TEST_URI"))
	if uri == "" {
		t.Skip("CAMPUSMARKET_MONGO_TEST_URI is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := Open(ctx, uri, "campusmarket_test_"+strings.ReplaceAll(uuid.NewString()[:8], "-", ""))
	if err != nil {
		t.Skipf("mongodb is not available for integration tests: %v", err)
	}
	t.Cleanup(func() {
		_ = store.db.Drop(context.Background())
		_ = store.Close()
	})
	return store
}

func TestStore_MongoConcurrentReserveHasSingleWinner(t *testing.T) {
	store := openMongoStoreForIntegrationTest(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	listing := domain.Listing{
		ID:        "listing-race",
		SellerID:  "seller",
		Title:     "Dorm fridge",
		Price:     decimal.RequireFromString("80.00"),
		Status:    domain.ListingStatusAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Listings().Create(ctx, listing))

	const buyers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.RunInTx(ctx, func(ctx context.Context, tx domain.LifecycleTx) error {
				if err := tx.SwapListingStatus(ctx, listing.ID, domain.ListingStatusAvailable, domain.ListingStatusReserved, time.Now().UTC()); err != nil {
					return err
				}
				return tx.InsertTransaction(ctx, domain.Transaction{
					ID:            uuid.NewString(),
					BuyerID:       uuid.NewString(),
					SellerID:      listing.SellerID,
					ListingID:     listing.ID,
					Amount:        listing.Price,
					Status:        domain.TransactionStatusReserved,
					PaymentStatus: domain.PaymentStatusPending,
					CreatedAt:     time.Now().UTC(),
					UpdatedAt:     time.Now().UTC(),
				})
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if !errors.Is(err, domain.ErrConflict) {
				t.Errorf("unexpected reserve error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	active, err := store.Transactions().HasActive(ctx, listing.ID)
	require.NoError(t, err)
	require.True(t, active)
}

func TestRepositories_MongoReviewsAndIdempotency(t *testing.T) {
	store := openMongoStoreForIntegrationTest(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	review := domain.Review{
		ID:             "r-1",
		ReviewerID:     "buyer",
		ReviewedUserID: "seller",
		TransactionID:  "tx-1",
		ListingID:      "l-1",
		Rating:         5,
		Type:           domain.ReviewTypeBuyerToSeller,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.Reviews().Create(ctx, review))
	review.ID = "r-2"
	require.ErrorIs(t, store.Reviews().Create(ctx, review), domain.ErrDuplicateReview)

	require.NoError(t, store.Users().SaveRating(ctx, domain.RatingSummary{UserID: "seller", Rating: 5, TotalReviews: 1}, now))
	user, err := store.Users().Get(ctx, "seller")
	require.NoError(t, err)
	require.Equal(t, 1, user.TotalReviews)

	idem := store.Idempotency()
	_, err = idem.CreateProcessing(ctx, "k", "h1", now.Add(time.Hour))
	require.NoError(t, err)
	_, err = idem.CreateProcessing(ctx, "k", "h2", now.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	removed, err := idem.DeleteExpired(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}
