package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/campusmarket/internal/storage/memory"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	breaker := NewCircuitBreaker(2, time.Minute, nil)
	breaker.now = clock.now

	fail := func() error { return errors.New("broker down") }
	ok := func() error { return nil }

	_ = breaker.Execute(fail)
	if breaker.State() != CircuitClosed {
		t.Fatalf("expected closed after 1 failure, got %s", breaker.State())
	}
	_ = breaker.Execute(fail)
	if breaker.State() != CircuitOpen {
		t.Fatalf("expected open after 2 failures, got %s", breaker.State())
	}

	called := false
	if err := breaker.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatal("open breaker must not call fn")
	}

	clock.t = clock.t.Add(time.Minute)
	if breaker.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after reset timeout, got %s", breaker.State())
	}
	_ = breaker.Execute(fail)
	if breaker.State() != CircuitOpen {
		t.Fatalf("failed probe must reopen breaker, got %s", breaker.State())
	}

	clock.t = clock.t.Add(time.Minute)
	if err := breaker.Execute(ok); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if breaker.State() != CircuitClosed {
		t.Fatalf("expected closed after successful probe, got %s", breaker.State())
	}
}

func TestCircuitBreaker_IgnoresCancellation(t *testing.T) {
	t.Parallel()

	breaker := NewCircuitBreaker(1, time.Minute, nil)
	_ = breaker.Execute(func() error { return context.Canceled })
	if breaker.State() != CircuitClosed {
		t.Fatalf("cancellation must not open breaker, got %s", breaker.State())
	}
}

func TestWorker_OpenBreakerKeepsEventsPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	repo := store.Outbox()
	for _, id := range []string{"msg-1", "msg-2", "msg-3"} {
		if _, err := repo.Enqueue(ctx, reservedEvent(id)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	dlqPublisher := &stubPublisher{}
	worker := NewWorker(repo, publisher,
		WithDLQPublisher(dlqPublisher),
		WithRetryBaseDelay(0),
		WithMaxAttempts(5),
		WithCircuitBreaker(NewCircuitBreaker(2, time.Hour, nil)),
	)

	report := worker.ProcessOnce(ctx)
	if report.Deferred != 3 {
		t.Fatalf("expected 3 deferred events, got %+v", report)
	}

	// Две неудачи размыкают breaker, остальные попытки не доходят до брокера.
	if got := publisher.calls(); got != 2 {
		t.Fatalf("expected 2 publish calls before breaker opened, got %d", got)
	}
	if got := dlqPublisher.calls(); got != 0 {
		t.Fatalf("open breaker must not push events to DLQ, got %d", got)
	}
	if got := len(repo.AllPending()); got != 3 {
		t.Fatalf("expected all 3 events still pending, got %d", got)
	}
}
