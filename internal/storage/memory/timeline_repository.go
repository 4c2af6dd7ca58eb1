package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

type timelineRepository struct {
	s *Store
}

// Append добавляет событие в историю агрегата.
func (r *timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.appendTimelineLocked(event)
	return nil
}

// List возвращает события агрегата в хронологическом порядке.
func (r *timelineRepository) List(_ context.Context, aggregateType, aggregateID string) ([]domain.TimelineEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	events := r.s.timeline[timelineKey(aggregateType, aggregateID)]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

func (s *Store) appendTimelineLocked(event domain.TimelineEvent) {
	key := timelineKey(event.AggregateType, event.AggregateID)
	events := append(s.timeline[key], event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	s.timeline[key] = events
}

func timelineKey(aggregateType, aggregateID string) string {
	return aggregateType + "/" + aggregateID
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
