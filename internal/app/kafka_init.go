package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bookcafe/internal/messaging/kafka"
)

// splitBrokers разбирает список brokers из конфигурации: запятые,
// пробелы вокруг адресов и пустые элементы допускаются.
func splitBrokers(raw string) []string {
	var brokers []string
	for _, addr := range strings.Split(raw, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			brokers = append(brokers, addr)
		}
	}
	return brokers
}

// initKafkaProducer поднимает producer по списку brokers из конфигурации.
// Пустой список не ошибка: сервис работает без Kafka, события копятся в outbox.
func initKafkaProducer(rawBrokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokers := splitBrokers(rawBrokers)
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("kafka producer unavailable, events stay in outbox")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer ready")
	return producer, nil
}

func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
