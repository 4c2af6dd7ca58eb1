package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

// pendingEvent: событие, которое пишется и в outbox, и в историю агрегата.
type pendingEvent struct {
	aggregateType string
	aggregateID   string
	eventType     string
	actorID       string
	reason        string
	occurred      time.Time
	payload       map[string]any
}

type eventBatch []pendingEvent

func (b *eventBatch) add(event pendingEvent) {
	*b = append(*b, event)
}

// write сохраняет события в той же транзакции, что и смену статусов.
func (b eventBatch) write(ctx context.Context, tx domain.LifecycleTx) error {
	for _, event := range b {
		payload := event.payload
		if payload == nil {
			payload = make(map[string]any)
		}
		payload[event.aggregateType+"_id"] = event.aggregateID
		payload["actor_id"] = event.actorID
		payload["ts"] = event.occurred.Format(time.RFC3339Nano)
		if event.reason != "" {
			payload["reason"] = event.reason
		}

		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", event.eventType, err)
		}
		if err := tx.EnqueueOutbox(ctx, domain.OutboxMessage{
			AggregateType: event.aggregateType,
			AggregateID:   event.aggregateID,
			EventType:     event.eventType,
			Payload:       data,
			CreatedAt:     event.occurred,
		}); err != nil {
			return fmt.Errorf("enqueue %s event: %w", event.eventType, err)
		}
		if err := tx.AppendTimeline(ctx, domain.TimelineEvent{
			AggregateType: event.aggregateType,
			AggregateID:   event.aggregateID,
			Type:          event.eventType,
			ActorID:       event.actorID,
			Reason:        event.reason,
			Occurred:      event.occurred,
		}); err != nil {
			return fmt.Errorf("append %s timeline: %w", event.eventType, err)
		}
	}
	return nil
}

func listingEvent(eventType, listingID, actorID, reason string, at time.Time, payload map[string]any) pendingEvent {
	return pendingEvent{
		aggregateType: domain.AggregateListing,
		aggregateID:   listingID,
		eventType:     eventType,
		actorID:       actorID,
		reason:        reason,
		occurred:      at,
		payload:       payload,
	}
}

func transactionEvent(eventType string, t domain.Transaction, actorID, reason string, at time.Time) pendingEvent {
	return pendingEvent{
		aggregateType: domain.AggregateTransaction,
		aggregateID:   t.ID,
		eventType:     eventType,
		actorID:       actorID,
		reason:        reason,
		occurred:      at,
		payload: map[string]any{
			"listing_id":     t.ListingID,
			"buyer_id":       t.BuyerID,
			"seller_id":      t.SellerID,
			"amount":         t.Amount.String(),
			"status":         string(t.Status),
			"payment_status": string(t.PaymentStatus),
		},
	}
}
