package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

// ReplayConfig задаёт повторную публикацию сообщений из dead letter topic.
type ReplayConfig struct {
	Brokers []string
	Topics  Topics
	Limit   int
	// При Execute=false кандидаты только логируются.
	Execute     bool
	FromNewest  bool
	IdleTimeout time.Duration
}

// ReplayStats итог повторной публикации.
type ReplayStats struct {
	Processed int
	Replayed  int
	Skipped   int
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

// Replayer читает dead letter topic и возвращает сообщения в исходные topics.
type Replayer struct {
	cfg      ReplayConfig
	client   offsetClient
	consumer partitionConsumerSource
	producer *Producer
	logger   *log.Entry
}

// NewReplayer подключается к брокерам. Producer создаётся только в режиме Execute.
func NewReplayer(cfg ReplayConfig) (*Replayer, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are not configured")
	}

	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = defaultClientID + "-dlq-replay"
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.Brokers, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	var producer *Producer
	if cfg.Execute {
		producer, err = NewProducer(ProducerConfig{Brokers: cfg.Brokers, ClientID: defaultClientID + "-dlq-replay"})
		if err != nil {
			_ = rawConsumer.Close()
			_ = client.Close()
			return nil, err
		}
	}
	return newReplayer(cfg, client, saramaConsumerAdapter{consumer: rawConsumer}, producer), nil
}

func newReplayer(cfg ReplayConfig, client offsetClient, consumer partitionConsumerSource, producer *Producer) *Replayer {
	return &Replayer{
		cfg:      cfg.withDefaults(),
		client:   client,
		consumer: consumer,
		producer: producer,
		logger:   log.WithField("component", "dlq-replay"),
	}
}

func (c ReplayConfig) withDefaults() ReplayConfig {
	if c.Limit <= 0 {
		c.Limit = defaultReplayLimit
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.Topics.DeadLetter == "" {
		c.Topics.DeadLetter = TopicDeadLetterQueue
	}
	return c
}

// Close закрывает producer, consumer и клиента.
func (r *Replayer) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.producer != nil {
		keep(r.producer.Close())
	}
	if r.consumer != nil {
		keep(r.consumer.Close())
	}
	if r.client != nil {
		keep(r.client.Close())
	}
	return firstErr
}

// Replay просматривает не больше Limit сообщений по всем партициям dead letter topic.
func (r *Replayer) Replay(ctx context.Context) (ReplayStats, error) {
	var total ReplayStats
	if r.cfg.Execute && r.producer == nil {
		return total, fmt.Errorf("producer is required in execute mode")
	}

	source := r.cfg.Topics.DeadLetter
	partitions, err := r.client.Partitions(source)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", source, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", source).Warn("dead letter topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.Processed >= r.cfg.Limit {
			break
		}
		stats, err := r.processPartition(ctx, partition, r.cfg.Limit-total.Processed)
		total.Processed += stats.Processed
		total.Replayed += stats.Replayed
		total.Skipped += stats.Skipped
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if r.cfg.Execute {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.Processed,
		"replayed":  total.Replayed,
		"skipped":   total.Skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func (r *Replayer) processPartition(ctx context.Context, partition int32, limit int) (ReplayStats, error) {
	var stats ReplayStats
	source := r.cfg.Topics.DeadLetter

	oldest, err := r.client.GetOffset(source, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(source, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if r.cfg.FromNewest {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := r.consumer.ConsumePartition(source, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.IdleTimeout)
	defer idle.Stop()

	for stats.Processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.cfg.IdleTimeout)

			stats.Processed++
			if err := r.replayOne(msg); err != nil {
				if r.cfg.Execute && !isMalformed(err) {
					return stats, err
				}
				stats.Skipped++
				r.logger.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip dlq message")
			} else {
				stats.Replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idle.C:
			return stats, nil
		}
	}
	return stats, nil
}

type malformedError struct{ err error }

func (e malformedError) Error() string { return e.err.Error() }
func (e malformedError) Unwrap() error { return e.err }

func isMalformed(err error) bool {
	_, ok := err.(malformedError)
	return ok
}

// replayOne восстанавливает envelope и публикует его в исходный topic.
func (r *Replayer) replayOne(msg *sarama.ConsumerMessage) error {
	var envelope Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return malformedError{fmt.Errorf("decode dlq envelope: %w", err)}
	}
	if envelope.ID == "" || envelope.EventType == "" {
		return malformedError{fmt.Errorf("dlq envelope at offset %d has no id or event type", msg.Offset)}
	}

	target := headerValue(msg.Headers, HeaderOriginalTopic)
	if target == "" {
		target = r.cfg.Topics.For(envelope.AggregateType)
	}

	if !r.cfg.Execute {
		r.logger.WithFields(log.Fields{
			"offset":       msg.Offset,
			"event_id":     envelope.ID,
			"event_type":   envelope.EventType,
			"target_topic": target,
		}).Info("dlq replay candidate")
		return nil
	}

	envelope.PublishedAt = r.producer.now().UTC()
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode replay envelope: %w", err)
	}
	return r.producer.Send(target, envelope.Key(), data, map[string]string{
		HeaderEventType:     envelope.EventType,
		HeaderAggregateType: envelope.AggregateType,
	})
}

func headerValue(headers []*sarama.RecordHeader, key string) string {
	for _, h := range headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}
