package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/apperr"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	// Topics restricts the destinations a publisher accepts. Empty means
	// DefaultTopics.
	Topics []string
}

func cleanBrokers(in []string) []string {
	brokers := make([]string, 0, len(in))
	for _, b := range in {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

type KafkaPublisher struct {
	writer kafkaWriter
	topics map[string]struct{}
}

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	brokers := cleanBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	topics := cfg.Topics
	if len(topics) == 0 {
		topics = DefaultTopics()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w, topics: topicSet(topics)}, nil
}

// Publish writes msg to its topic. An unknown topic is reported as
// QueueNotFound without touching the broker.
func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	if p == nil || p.writer == nil {
		return fmt.Errorf("kafka publisher not initialized")
	}
	if _, ok := p.topics[msg.Topic]; !ok {
		return apperr.QueueNotFound().Wrap(fmt.Errorf("topic %q", msg.Topic))
	}
	km := kafka.Message{Topic: msg.Topic, Key: msg.Key, Value: msg.Value}
	for k, v := range msg.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if err := p.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.Topic, err)
	}
	log.Ctx(ctx).Debug().Str("topic", msg.Topic).Bytes("key", msg.Key).Msg("message published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

type KafkaConsumer struct {
	reader kafkaReader
	topic  string
}

func NewKafkaConsumer(cfg KafkaConfig, topic string) (*KafkaConsumer, error) {
	brokers := cleanBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, fmt.Errorf("kafka group id required")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return &KafkaConsumer{reader: r, topic: topic}, nil
}

func (c *KafkaConsumer) Fetch(ctx context.Context) (Message, error) {
	if c == nil || c.reader == nil {
		return Message{}, fmt.Errorf("kafka consumer not initialized")
	}
	km, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		Topic:     km.Topic,
		Key:       km.Key,
		Value:     km.Value,
		offset:    km.Offset,
		partition: km.Partition,
	}
	if msg.Topic == "" {
		msg.Topic = c.topic
	}
	if len(km.Headers) > 0 {
		msg.Headers = make(map[string]string, len(km.Headers))
		for _, h := range km.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg, nil
}

func (c *KafkaConsumer) Commit(ctx context.Context, msg Message) error {
	if c == nil || c.reader == nil {
		return fmt.Errorf("kafka consumer not initialized")
	}
	return c.reader.CommitMessages(ctx, kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.partition,
		Offset:    msg.offset,
	})
}

func (c *KafkaConsumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
