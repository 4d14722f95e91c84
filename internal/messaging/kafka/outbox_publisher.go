package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// OutboxPublisher публикует outbox-сообщения, выбирая topic по типу агрегата.
type OutboxPublisher struct {
	producer *Producer
	topics   Topics
}

// NewOutboxPublisher создаёт паблишер событий синхронизации.
func NewOutboxPublisher(producer *Producer, topics Topics) *OutboxPublisher {
	return &OutboxPublisher{producer: producer, topics: topics}
}

func (p *OutboxPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}
	return p.send(p.topics.For(event.AggregateType), event, nil)
}

func (p *OutboxPublisher) send(topic string, event domain.OutboxMessage, extra map[string]string) error {
	envelope := NewEnvelope(event, p.producer.now())
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", event.ID, err)
	}

	headers := map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
	}
	for k, v := range extra {
		headers[k] = v
	}
	return p.producer.Send(topic, envelope.Key(), data, headers)
}

// DLQPublisher отправляет сообщения, исчерпавшие retry, в dead letter topic.
type DLQPublisher struct {
	OutboxPublisher
}

// NewDLQPublisher создаёт паблишер для dead letter topic.
func NewDLQPublisher(producer *Producer, topics Topics) *DLQPublisher {
	if topics.DeadLetter == "" {
		topics.DeadLetter = TopicDeadLetterQueue
	}
	return &DLQPublisher{OutboxPublisher{producer: producer, topics: topics}}
}

func (p *DLQPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dlq publisher is not initialized")
	}
	return p.send(p.topics.DeadLetter, event, map[string]string{
		HeaderOriginalTopic: p.topics.For(event.AggregateType),
		HeaderFailedAt:      p.producer.now().UTC().Format(time.RFC3339Nano),
	})
}

var (
	_ domain.OutboxPublisher = (*OutboxPublisher)(nil)
	_ domain.OutboxPublisher = (*DLQPublisher)(nil)
)
