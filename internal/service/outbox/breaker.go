package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

// ErrCircuitOpen: публикация не выполнялась, брокер считается недоступным.
var ErrCircuitOpen = errors.New("outbox circuit breaker is open")

// CircuitState: состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker размыкается после maxFailures ошибок подряд и через resetTimeout
// пропускает одну пробную публикацию.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	failures    int
	lastFailure time.Time
	state       CircuitState
	logger      *log.Entry
}

// NewCircuitBreaker создаёт breaker; maxFailures <= 0 означает 1.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	if logger == nil {
		logger = log.WithField("component", "outbox-breaker")
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		state:        CircuitClosed,
		logger:       logger,
	}
}

// State возвращает текущее состояние с учётом истёкшего resetTimeout.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Execute вызывает fn, если breaker не разомкнут.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.logger.Info("circuit breaker half-open")
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil && !errors.Is(err, context.Canceled) {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			if cb.state != CircuitOpen {
				cb.logger.WithField("failures", cb.failures).Warn("circuit breaker opened")
			}
			cb.state = CircuitOpen
		}
		return err
	}
	if err == nil {
		if cb.state == CircuitHalfOpen {
			cb.logger.Info("circuit breaker closed")
		}
		cb.state = CircuitClosed
		cb.failures = 0
	}
	return err
}

// breakerPublisher пропускает публикации через CircuitBreaker.
type breakerPublisher struct {
	next    domain.OutboxPublisher
	breaker *CircuitBreaker
}

// NewBreakerPublisher оборачивает publisher в circuit breaker.
func NewBreakerPublisher(next domain.OutboxPublisher, breaker *CircuitBreaker) domain.OutboxPublisher {
	return &breakerPublisher{next: next, breaker: breaker}
}

func (p *breakerPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	return p.breaker.Execute(func() error {
		return p.next.Publish(ctx, event)
	})
}
