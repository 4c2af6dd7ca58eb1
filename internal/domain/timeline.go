package domain

import "time"

// TimelineEvent: запись истории объявления или сделки.
type TimelineEvent struct {
	AggregateType string
	AggregateID   string
	Type          string
	ActorID       string
	Reason        string
	Occurred      time.Time
}
