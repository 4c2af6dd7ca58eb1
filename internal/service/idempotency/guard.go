package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

// DefaultTTL: сколько хранится ответ на запрос с Idempotency-Key.
const DefaultTTL = 24 * time.Hour

var idempotencyDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "campusmarket_idempotency_decisions_total",
	Help: "Total number of idempotency key decisions grouped by outcome.",
}, []string{"outcome"})

// Decision: результат Begin.
type Decision struct {
	// Replay означает, что запрос уже обработан и ответ надо вернуть из Record.
	Replay bool
	Record domain.IdempotencyRecord
}

// Guard резервирует ключ перед выполнением запроса и сохраняет ответ после.
type Guard struct {
	repo domain.IdempotencyRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewGuard создаёт Guard. ttl <= 0 заменяется на DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		repo: repo,
		ttl:  ttl,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Begin занимает ключ. Повтор с тем же хешем после завершения возвращает Replay,
// повтор с другим хешем даёт ErrIdempotencyHashMismatch, а незавершённый: ErrIdempotencyInProgress.
func (g *Guard) Begin(ctx context.Context, key, requestHash string) (Decision, error) {
	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	if err == nil {
		idempotencyDecisionsTotal.WithLabelValues("new").Inc()
		return Decision{Record: record}, nil
	}
	if !domain.IsIdempotencyConflict(err) {
		return Decision{}, err
	}

	existing, getErr := g.repo.Get(ctx, key)
	if getErr != nil {
		return Decision{}, fmt.Errorf("load idempotency key: %w", getErr)
	}
	if existing.RequestHash != requestHash {
		idempotencyDecisionsTotal.WithLabelValues("mismatch").Inc()
		return Decision{}, domain.ErrIdempotencyHashMismatch
	}
	if !existing.Replayable() {
		idempotencyDecisionsTotal.WithLabelValues("in_progress").Inc()
		return Decision{}, domain.ErrIdempotencyInProgress
	}

	idempotencyDecisionsTotal.WithLabelValues("replay").Inc()
	return Decision{Replay: true, Record: existing}, nil
}

// Finish сохраняет ответ. Ответы 5xx помечаются failed.
func (g *Guard) Finish(ctx context.Context, key string, httpStatus int, body []byte) error {
	if httpStatus >= http.StatusInternalServerError {
		return g.repo.MarkFailed(ctx, key, body, httpStatus)
	}
	return g.repo.MarkDone(ctx, key, body, httpStatus)
}

// IsConflict сообщает, что ключ нельзя использовать для этого запроса.
func IsConflict(err error) bool {
	return errors.Is(err, domain.ErrIdempotencyHashMismatch) || errors.Is(err, domain.ErrIdempotencyInProgress)
}
