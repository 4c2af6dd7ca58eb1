package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	"github.com/vladislavdragonenkov/campusmarket/internal/storage/memory"
)

// scriptedRepo отдаёт заранее заданные результаты DeleteExpired по очереди.
type scriptedRepo struct {
	domain.IdempotencyRepository

	mu      sync.Mutex
	results []int
	errs    []error
	seen    []int
}

func (r *scriptedRepo) DeleteExpired(_ context.Context, _ time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seen = append(r.seen, limit)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(r.results) == 0 {
		return 0, nil
	}
	n := r.results[0]
	r.results = r.results[1:]
	return n, nil
}

func (r *scriptedRepo) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestSweeper_StopsOnShortBatch(t *testing.T) {
	repo := &scriptedRepo{results: []int{3, 3, 1, 3}}
	s := NewSweeper(repo, WithBatchSize(3))

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Removed: 7, Batches: 3}, res)
	assert.Equal(t, []int{3, 3, 3}, repo.seen)
}

func TestSweeper_TruncatesAtMaxBatches(t *testing.T) {
	repo := &scriptedRepo{results: []int{2, 2, 2, 2}}
	s := NewSweeper(repo, WithBatchSize(2), WithMaxBatches(2))

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, 4, res.Removed)
	assert.Equal(t, 2, repo.calls())
}

func TestSweeper_ReportsPartialProgressOnError(t *testing.T) {
	boom := errors.New("storage down")
	repo := &scriptedRepo{results: []int{5}, errs: []error{nil, boom}}
	s := NewSweeper(repo, WithBatchSize(5))

	res, err := s.Sweep(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 5, res.Removed)
	assert.Equal(t, 2, res.Batches)
}

func TestSweeper_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := &scriptedRepo{}
	_, err := NewSweeper(repo).Sweep(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, repo.calls())
}

func TestSweeper_RemovesOnlyExpiredKeysFromMemoryStore(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Idempotency()
	now := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	_, err := repo.CreateProcessing(ctx, "buyer-1:reserve-a", "h1", now.Add(-time.Second))
	require.NoError(t, err)
	_, err = repo.CreateProcessing(ctx, "buyer-1:reserve-b", "h2", now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = repo.CreateProcessing(ctx, "buyer-2:reserve-a", "h3", now.Add(time.Hour))
	require.NoError(t, err)

	s := NewSweeper(repo, WithBatchSize(1), WithClock(func() time.Time { return now }))
	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Removed)

	_, err = repo.Get(ctx, "buyer-1:reserve-a")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get(ctx, "buyer-2:reserve-a")
	assert.NoError(t, err)
}

func TestSweeper_RunSweepsUntilCancelled(t *testing.T) {
	repo := &scriptedRepo{}
	s := NewSweeper(repo, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	require.Eventually(t, func() bool { return repo.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestSweeper_RunWithoutRepoReturns(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewSweeper(nil).Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper without repository must return immediately")
	}
}
