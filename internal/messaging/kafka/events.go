package kafka

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// Topics по умолчанию.
const (
	TopicOrderEvents     = "ordersync.order.events"
	TopicSyncEvents      = "ordersync.sync.events"
	TopicDeadLetterQueue = "ordersync.dlq"
)

// Kafka headers.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOriginalTopic = "x-original-topic"
	HeaderFailedAt      = "x-failed-at"
)

// Topics задаёт маршрутизацию событий по типу агрегата.
type Topics struct {
	Orders     string `yaml:"orders"`
	SyncRuns   string `yaml:"sync_runs"`
	DeadLetter string `yaml:"dead_letter"`
}

// DefaultTopics возвращает topics по умолчанию.
func DefaultTopics() Topics {
	return Topics{
		Orders:     TopicOrderEvents,
		SyncRuns:   TopicSyncEvents,
		DeadLetter: TopicDeadLetterQueue,
	}
}

// For возвращает topic для типа агрегата. Неизвестные агрегаты идут в topic заказов.
func (t Topics) For(aggregateType string) string {
	if aggregateType == domain.AggregateSyncRun && t.SyncRuns != "" {
		return t.SyncRuns
	}
	if t.Orders != "" {
		return t.Orders
	}
	return TopicOrderEvents
}

// Envelope — формат сообщения в Kafka.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope упаковывает outbox-сообщение. Пустой payload становится JSON null.
func NewEnvelope(msg domain.OutboxMessage, now time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   now.UTC(),
	}
}

// Key возвращает ключ партиционирования: события одного заказа попадают в одну партицию.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}
