package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

type fakeOffsetClient struct {
	partitions []int32
	oldest     map[int32]int64
	newest     map[int32]int64
	err        error
}

func (c *fakeOffsetClient) GetOffset(_ string, partition int32, at int64) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	if at == sarama.OffsetOldest {
		return c.oldest[partition], nil
	}
	return c.newest[partition], nil
}

func (c *fakeOffsetClient) Partitions(string) ([]int32, error) { return c.partitions, c.err }
func (c *fakeOffsetClient) Close() error                       { return nil }

type fakePartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (pc *fakePartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return pc.messages }
func (pc *fakePartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return pc.errors }
func (pc *fakePartitionConsumer) Close() error                             { return nil }

type fakeConsumerSource struct {
	byPartition map[int32][]*sarama.ConsumerMessage
	started     map[int32]int64
}

func (s *fakeConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	if s.started == nil {
		s.started = make(map[int32]int64)
	}
	s.started[partition] = offset
	pc := &fakePartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage, len(s.byPartition[partition])),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	for _, msg := range s.byPartition[partition] {
		if msg.Offset >= offset {
			pc.messages <- msg
		}
	}
	return pc, nil
}

func (s *fakeConsumerSource) Close() error { return nil }

func dlqMessage(t *testing.T, partition int32, offset int64, event domain.OutboxMessage, originalTopic string) *sarama.ConsumerMessage {
	t.Helper()
	data, err := json.Marshal(NewEnvelope(event, time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	msg := &sarama.ConsumerMessage{Partition: partition, Offset: offset, Value: data}
	if originalTopic != "" {
		msg.Headers = []*sarama.RecordHeader{{Key: []byte(HeaderOriginalTopic), Value: []byte(originalTopic)}}
	}
	return msg
}

func TestReplayer_ExecuteRepublishesToOriginalTopic(t *testing.T) {
	orderEvent := domain.OutboxMessage{ID: "evt-1", AggregateType: domain.AggregateOrder, AggregateID: "100000321", EventType: domain.EventOrderStatusChanged, Payload: []byte(`{"to":"CANCELED"}`)}
	runEvent := domain.OutboxMessage{ID: "evt-2", AggregateType: domain.AggregateSyncRun, AggregateID: "run-1", EventType: domain.EventSyncRunCompleted}

	source := &fakeConsumerSource{byPartition: map[int32][]*sarama.ConsumerMessage{
		0: {
			dlqMessage(t, 0, 0, orderEvent, "shop.orders"),
			{Partition: 0, Offset: 1, Value: []byte("not json")},
		},
		1: {dlqMessage(t, 1, 5, runEvent, "")},
	}}
	client := &fakeOffsetClient{
		partitions: []int32{1, 0},
		oldest:     map[int32]int64{0: 0, 1: 5},
		newest:     map[int32]int64{0: 2, 1: 6},
	}

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "shop.orders" {
			return errors.New("expected original topic from header, got " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "100000321" {
			return errors.New("unexpected key " + string(key))
		}
		return nil
	})
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicSyncEvents {
			return errors.New("expected sync topic fallback, got " + msg.Topic)
		}
		return nil
	})

	replayer := newReplayer(ReplayConfig{Topics: DefaultTopics(), Execute: true, IdleTimeout: 50 * time.Millisecond}, client, source, newProducer(mockProducer))
	stats, err := replayer.Replay(context.Background())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if stats.Processed != 3 || stats.Replayed != 2 || stats.Skipped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if err := replayer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReplayer_DryRunDoesNotPublish(t *testing.T) {
	event := domain.OutboxMessage{ID: "evt-1", AggregateType: domain.AggregateOrder, AggregateID: "1001", EventType: domain.EventOrderDeletedUpstream}
	source := &fakeConsumerSource{byPartition: map[int32][]*sarama.ConsumerMessage{
		0: {dlqMessage(t, 0, 7, event, ""), dlqMessage(t, 0, 8, event, ""), dlqMessage(t, 0, 9, event, "")},
	}}
	client := &fakeOffsetClient{
		partitions: []int32{0},
		oldest:     map[int32]int64{0: 0},
		newest:     map[int32]int64{0: 10},
	}

	replayer := newReplayer(ReplayConfig{Limit: 2, FromNewest: true, IdleTimeout: 50 * time.Millisecond}, client, source, nil)
	stats, err := replayer.Replay(context.Background())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if stats.Processed != 2 || stats.Replayed != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if source.started[0] != 8 {
		t.Fatalf("expected scan from newest-limit offset 8, got %d", source.started[0])
	}
}

func TestReplayer_Errors(t *testing.T) {
	replayer := newReplayer(ReplayConfig{Execute: true}, &fakeOffsetClient{}, &fakeConsumerSource{}, nil)
	if _, err := replayer.Replay(context.Background()); err == nil {
		t.Fatal("expected error without producer in execute mode")
	}

	boom := errors.New("metadata unavailable")
	replayer = newReplayer(ReplayConfig{}, &fakeOffsetClient{err: boom}, &fakeConsumerSource{}, nil)
	if _, err := replayer.Replay(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected metadata error, got %v", err)
	}

	replayer = newReplayer(ReplayConfig{}, &fakeOffsetClient{}, &fakeConsumerSource{}, nil)
	stats, err := replayer.Replay(context.Background())
	if err != nil || stats.Processed != 0 {
		t.Fatalf("expected empty replay, got %+v %v", stats, err)
	}

	if _, err := NewReplayer(ReplayConfig{}); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func TestReplayConfigDefaults(t *testing.T) {
	cfg := ReplayConfig{}.withDefaults()
	if cfg.Limit != defaultReplayLimit || cfg.IdleTimeout != defaultIdleTimeout || cfg.Topics.DeadLetter != TopicDeadLetterQueue {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
