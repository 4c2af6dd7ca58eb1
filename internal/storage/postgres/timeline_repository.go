package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

type timelineRepository struct {
	db *sqlx.DB
}

type timelineRow struct {
	AggregateType string    `db:"aggregate_type"`
	AggregateID   string    `db:"aggregate_id"`
	Type          string    `db:"type"`
	ActorID       string    `db:"actor_id"`
	Reason        string    `db:"reason"`
	Occurred      time.Time `db:"occurred"`
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return insertTimeline(ctx, r.db, event)
}

func (r *timelineRepository) List(ctx context.Context, aggregateType, aggregateID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var rows []timelineRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT aggregate_type, aggregate_id, type, actor_id, reason, occurred
		FROM timeline_events
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY occurred ASC, id ASC
	`, aggregateType, aggregateID); err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}

	events := make([]domain.TimelineEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, domain.TimelineEvent{
			AggregateType: row.AggregateType,
			AggregateID:   row.AggregateID,
			Type:          row.Type,
			ActorID:       row.ActorID,
			Reason:        row.Reason,
			Occurred:      row.Occurred.UTC(),
		})
	}
	return events, nil
}

func insertTimeline(ctx context.Context, exec sqlx.ExecerContext, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	if _, err := exec.ExecContext(ctx, `
		INSERT INTO timeline_events (aggregate_type, aggregate_id, type, actor_id, reason, occurred)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, event.AggregateType, event.AggregateID, event.Type, event.ActorID, event.Reason, event.Occurred); err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}
	return nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
