package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/messaging/kafka"
)

const kafkaClientID = "campusmarket-service"

// initKafkaProducer создаёт producer, если brokers не пуст.
// Возвращает nil, nil для пустого списка: сервис работает без публикации событий.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, kafkaClientID)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// kafkaChecker сообщает о состоянии publisher в health: без producer Kafka считается недоступной.
func kafkaChecker(producer *kafka.Producer, initErr error) func(context.Context) error {
	return func(context.Context) error {
		if producer != nil {
			return nil
		}
		if initErr != nil {
			return fmt.Errorf("kafka producer unavailable: %w", initErr)
		}
		return fmt.Errorf("kafka is not configured")
	}
}

// closeKafkaProducer закрывает Kafka producer если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
