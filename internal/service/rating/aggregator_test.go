package rating_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	"github.com/vladislavdragonenkov/campusmarket/internal/metrics"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/rating"
	"github.com/vladislavdragonenkov/campusmarket/internal/storage/memory"
)

func reviewsWith(ratings ...int) []domain.Review {
	result := make([]domain.Review, 0, len(ratings))
	for _, r := range ratings {
		result = append(result, domain.Review{Rating: r})
	}
	return result
}

func TestSummarize(t *testing.T) {
	cases := []struct {
		name    string
		ratings []int
		want    float64
	}{
		{name: "no reviews", ratings: nil, want: 0},
		{name: "single", ratings: []int{5}, want: 5},
		{name: "exact half rounds away from zero", ratings: []int{4, 4, 5, 4}, want: 4.3},
		{name: "one and two", ratings: []int{1, 2}, want: 1.5},
		{name: "repeating fraction", ratings: []int{4, 5, 5}, want: 4.7},
		{name: "round down", ratings: []int{1, 1, 2}, want: 1.3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			summary := rating.Summarize("user-1", reviewsWith(tc.ratings...))
			assert.Equal(t, "user-1", summary.UserID)
			assert.Equal(t, len(tc.ratings), summary.TotalReviews)
			assert.InDelta(t, tc.want, summary.Rating, 1e-9)
		})
	}
}

func seedReview(t *testing.T, store *memory.Store, id, reviewer, reviewed string, value int) {
	t.Helper()
	require.NoError(t, store.Reviews().Create(context.Background(), domain.Review{
		ID:             id,
		ReviewerID:     reviewer,
		ReviewedUserID: reviewed,
		TransactionID:  "tx-" + id,
		ListingID:      "listing-" + id,
		Rating:         value,
		Type:           domain.ReviewTypeBuyerToSeller,
		CreatedAt:      time.Now().UTC(),
	}))
}

func TestRecomputePersistsSummary(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	agg := rating.NewAggregator(store.Reviews(), store.Users())

	seedReview(t, store, "r1", "buyer-1", "seller-1", 5)
	seedReview(t, store, "r2", "buyer-2", "seller-1", 4)
	seedReview(t, store, "r3", "buyer-3", "someone-else", 1)

	summary, err := agg.Recompute(ctx, "seller-1")
	require.NoError(t, err)
	require.Equal(t, 2, summary.TotalReviews)
	require.InDelta(t, 4.5, summary.Rating, 1e-9)

	user, err := store.Users().Get(ctx, "seller-1")
	require.NoError(t, err)
	require.InDelta(t, 4.5, user.Rating, 1e-9)
	require.Equal(t, 2, user.TotalReviews)

	require.NoError(t, store.Reviews().Delete(ctx, "r1"))
	require.NoError(t, store.Reviews().Delete(ctx, "r2"))

	summary, err = agg.Recompute(ctx, "seller-1")
	require.NoError(t, err)
	require.Zero(t, summary.TotalReviews)
	require.Zero(t, summary.Rating)
}

func TestRatingForUnknownUserIsZero(t *testing.T) {
	store := memory.NewStore()
	agg := rating.NewAggregator(store.Reviews(), store.Users())

	summary, err := agg.Rating(context.Background(), "nobody")
	require.NoError(t, err)
	require.Equal(t, domain.RatingSummary{UserID: "nobody"}, summary)
}

type failingUsers struct{}

func (failingUsers) Get(context.Context, string) (domain.User, error) {
	return domain.User{}, errors.New("db down")
}

func (failingUsers) SaveRating(context.Context, domain.RatingSummary, time.Time) error {
	return errors.New("db down")
}

func TestRefreshSwallowsAndCountsFailures(t *testing.T) {
	store := memory.NewStore()
	seedReview(t, store, "r1", "buyer-1", "seller-1", 3)

	reg := prometheus.NewRegistry()
	agg := rating.NewAggregator(store.Reviews(), failingUsers{},
		rating.WithMetrics(metrics.NewLifecycleMetricsWithRegisterer(reg)))

	_, err := agg.Recompute(context.Background(), "seller-1")
	require.Error(t, err)

	require.NotPanics(t, func() { agg.Refresh(context.Background(), "seller-1") })

	families, err := reg.Gather()
	require.NoError(t, err)
	var failures float64
	for _, family := range families {
		if family.GetName() == "campusmarket_rating_refresh_failures_total" {
			failures = sumCounter(family.GetMetric())
		}
	}
	require.Equal(t, 1.0, failures)
}

func sumCounter(samples []*dto.Metric) float64 {
	var total float64
	for _, m := range samples {
		total += m.GetCounter().GetValue()
	}
	return total
}

// heldReviews задерживает первое чтение отзывов до закрытия release.
type heldReviews struct {
	domain.ReviewRepository

	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (h *heldReviews) ListByReviewedUser(ctx context.Context, userID string) ([]domain.Review, error) {
	reviews, err := h.ReviewRepository.ListByReviewedUser(ctx, userID)
	first := false
	h.once.Do(func() { first = true })
	if first {
		close(h.entered)
		<-h.release
	}
	return reviews, err
}

func TestRefreshesOfSameUserDoNotOverwriteNewerRating(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedReview(t, store, "r1", "buyer-1", "seller-1", 1)

	reviews := &heldReviews{
		ReviewRepository: store.Reviews(),
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	agg := rating.NewAggregator(reviews, store.Users())

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		agg.Refresh(ctx, "seller-1")
	}()
	<-reviews.entered

	// Первый пересчёт уже прочитал только r1.
	seedReview(t, store, "r2", "buyer-2", "seller-1", 5)
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		agg.Refresh(ctx, "seller-1")
	}()

	select {
	case <-secondDone:
		t.Fatal("second refresh of the same user finished while the first was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(reviews.release)
	<-firstDone
	<-secondDone

	user, err := store.Users().Get(ctx, "seller-1")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, user.Rating, 1e-9)
	assert.Equal(t, 2, user.TotalReviews)
}

func TestRefreshesOfDifferentUsersRunIndependently(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedReview(t, store, "r1", "buyer-1", "seller-1", 4)
	seedReview(t, store, "r2", "buyer-1", "seller-2", 2)

	reviews := &heldReviews{
		ReviewRepository: store.Reviews(),
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	agg := rating.NewAggregator(reviews, store.Users())

	go agg.Refresh(ctx, "seller-1")
	<-reviews.entered
	defer close(reviews.release)

	summary, err := agg.Recompute(ctx, "seller-2")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, summary.Rating, 1e-9)
}
