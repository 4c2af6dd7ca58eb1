package lifecycle

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

// NoopNotifier отбрасывает уведомления.
type NoopNotifier struct{}

func (NoopNotifier) Publish(string, string, any) {}

// LogNotifier пишет уведомления в лог. Используется, когда realtime-канал отключён.
type LogNotifier struct {
	Logger *log.Entry
}

func (n LogNotifier) Publish(userID, eventType string, _ any) {
	logger := n.Logger
	if logger == nil {
		logger = log.WithField("component", "notifier")
	}
	logger.WithFields(log.Fields{
		"user_id":    userID,
		"event_type": eventType,
	}).Debug("notification published")
}

// MultiNotifier рассылает уведомление всем вложенным получателям.
type MultiNotifier []domain.Notifier

func (m MultiNotifier) Publish(userID, eventType string, payload any) {
	for _, n := range m {
		if n != nil {
			n.Publish(userID, eventType, payload)
		}
	}
}

var (
	_ domain.Notifier = NoopNotifier{}
	_ domain.Notifier = LogNotifier{}
	_ domain.Notifier = MultiNotifier(nil)
)
