package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersync/internal/version"
)

// publishers: паблишеры outbox поверх одного producer.
type publishers struct {
	producer *kafka.Producer
	events   domain.OutboxPublisher
	dlq      domain.OutboxPublisher
}

// initKafka создаёт producer, если заданы брокеры. Ошибка подключения не фатальна:
// события остаются в outbox до следующего запуска с доступной Kafka.
func initKafka(cfg KafkaConfig, logger *log.Entry) publishers {
	if len(cfg.Brokers) == 0 {
		logger.Info("kafka brokers are not configured, outbox events stay unpublished")
		return publishers{}
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:  cfg.Brokers,
		ClientID: "ordersync-" + version.GetVersion(),
	})
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return publishers{}
	}

	logger.WithField("brokers", cfg.Brokers).Info("kafka producer initialized")
	return publishers{
		producer: producer,
		events:   kafka.NewOutboxPublisher(producer, cfg.Topics),
		dlq:      kafka.NewDLQPublisher(producer, cfg.Topics),
	}
}

// close закрывает producer если он был создан.
func (p publishers) close(logger *log.Entry) {
	if p.producer == nil {
		return
	}
	if err := p.producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
