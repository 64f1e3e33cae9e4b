package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/apperr"
)

// MemoryBus is an in-process Publisher with one buffered channel per topic.
// It backs single-node runs where no broker is configured. Dead-letter topics
// have no consumer and keep only the newest buffer entries.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string]chan Message
	closed bool
	// evict serializes dead-letter publishes so eviction frees room for them.
	evict sync.Mutex
}

func NewMemoryBus(buffer int, topics ...string) *MemoryBus {
	if buffer <= 0 {
		buffer = 256
	}
	if len(topics) == 0 {
		topics = DefaultTopics()
	}
	b := &MemoryBus{topics: make(map[string]chan Message)}
	for t := range topicSet(topics) {
		b.topics[t] = make(chan Message, buffer)
	}
	return b
}

func (b *MemoryBus) Publish(ctx context.Context, msg Message) error {
	b.mu.Lock()
	ch, ok := b.topics[msg.Topic]
	closed := b.closed
	b.mu.Unlock()
	if !ok {
		return apperr.QueueNotFound().Wrap(fmt.Errorf("topic %q", msg.Topic))
	}
	if closed {
		return fmt.Errorf("memory bus closed")
	}
	if isDeadLetter(msg.Topic) {
		b.offerEvicting(ctx, ch, msg)
		return nil
	}
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBus) offerEvicting(ctx context.Context, ch chan Message, msg Message) {
	b.evict.Lock()
	defer b.evict.Unlock()
	for {
		select {
		case ch <- msg:
			return
		default:
		}
		select {
		case old := <-ch:
			log.Ctx(ctx).Warn().Str("topic", old.Topic).Bytes("key", old.Key).Msg("dead-letter buffer full, dropping oldest")
		default:
		}
	}
}

// Consumer returns a consumer for topic. Consumers on the same topic
// compete for messages.
func (b *MemoryBus) Consumer(topic string) (Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.topics[topic]
	if !ok {
		return nil, apperr.QueueNotFound().Wrap(fmt.Errorf("topic %q", topic))
	}
	return memoryConsumer{ch: ch}, nil
}

// Len reports the number of messages waiting on topic.
func (b *MemoryBus) Len(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type memoryConsumer struct {
	ch chan Message
}

func (c memoryConsumer) Fetch(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.ch:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (memoryConsumer) Commit(context.Context, Message) error { return nil }
func (memoryConsumer) Close() error                          { return nil }
