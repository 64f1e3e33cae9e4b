// Package queue carries messages between the request path and the workers
// that dispatch to HIPs.
package queue

import (
	"context"
	"strings"
)

const (
	// TopicHIPDataFlowRequest carries data requests from the orchestrator to
	// the listener that forwards them to HIPs.
	TopicHIPDataFlowRequest = "hip-data-flow-request"

	deadLetterSuffix = ".dlq"
)

// DefaultTopics lists every destination a publisher accepts by default.
func DefaultTopics() []string {
	return []string{TopicHIPDataFlowRequest}
}

// DeadLetter returns the dead-letter destination for topic.
func DeadLetter(topic string) string {
	if isDeadLetter(topic) {
		return topic
	}
	return topic + deadLetterSuffix
}

func isDeadLetter(topic string) bool {
	return strings.HasSuffix(topic, deadLetterSuffix)
}

type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string

	offset    int64
	partition int
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Consumer hands out messages one at a time. A fetched message is not
// redelivered once it has been committed.
type Consumer interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
	Close() error
}

func topicSet(topics []string) map[string]struct{} {
	set := make(map[string]struct{}, 2*len(topics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		set[t] = struct{}{}
		set[DeadLetter(t)] = struct{}{}
	}
	return set
}
