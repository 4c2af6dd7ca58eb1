package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

// maxRetryDelay ограничивает удвоение паузы между попытками.
const maxRetryDelay = 5 * time.Second

type outcome int

const (
	outcomeSent outcome = iota
	outcomeDeadLettered
	outcomeDeferred
	outcomeAborted
)

// DeadLetter: конверт, который уходит в DLQ-топик вместо исходного события.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) outcome {
	entry := w.cfg.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"aggregate_id": msg.AggregateID,
		"event_type":   msg.EventType,
	})

	err := w.publish(ctx, msg)
	switch {
	case err == nil:
		deliveriesTotal.WithLabelValues("sent").Inc()
		if markErr := w.repo.MarkSent(ctx, msg.ID); markErr != nil {
			entry.WithError(markErr).Warn("mark outbox record sent")
		}
		return outcomeSent
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeAborted
	case errors.Is(err, ErrCircuitOpen):
		deliveriesTotal.WithLabelValues("deferred").Inc()
		entry.Debug("broker circuit open, record stays pending")
		return outcomeDeferred
	}

	entry.WithError(err).Error("outbox record exhausted publish attempts")
	deliveriesTotal.WithLabelValues("dead_lettered").Inc()
	if dlqErr := w.deadLetter(ctx, msg, err); dlqErr != nil {
		entry.WithError(dlqErr).Warn("dead letter publish failed")
		deliveriesTotal.WithLabelValues("dlq_failed").Inc()
	}
	// failed-запись больше не выбирается, остальной backlog не блокируется.
	if markErr := w.repo.MarkFailed(ctx, msg.ID); markErr != nil {
		entry.WithError(markErr).Warn("mark outbox record failed")
	}
	return outcomeDeadLettered
}

// publish делает до attempts попыток с удваивающейся паузой.
func (w *Worker) publish(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.attempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, retryDelay(w.cfg.retryDelay, attempt-1)); err != nil {
				return err
			}
			deliveriesTotal.WithLabelValues("retry").Inc()
		}
		lastErr = w.publisher.Publish(ctx, msg)
		if lastErr == nil || errors.Is(lastErr, ErrCircuitOpen) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %d attempts: %w", domain.ErrOutboxPublish, w.cfg.attempts, lastErr)
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, cause error) error {
	if w.cfg.deadLetters == nil {
		return nil
	}
	body, err := json.Marshal(DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		Attempts:      w.cfg.attempts,
		PublishError:  cause.Error(),
		FailedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	dl := msg
	dl.Payload = body
	return w.cfg.deadLetters.Publish(ctx, dl)
}

// retryDelay возвращает base * 2^(n-1), не больше maxRetryDelay.
func retryDelay(base time.Duration, n int) time.Duration {
	if base <= 0 || n <= 0 {
		return 0
	}
	d := base
	for i := 1; i < n && d < maxRetryDelay; i++ {
		d *= 2
	}
	return min(d, maxRetryDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
