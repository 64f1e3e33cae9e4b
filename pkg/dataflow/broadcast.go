package dataflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/httpx"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/metrics"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/queue"
)

// Broadcaster hands authorized requests to the HIP dispatcher.
type Broadcaster struct {
	pub     queue.Publisher
	topic   string
	metrics *metrics.Registry
}

func NewBroadcaster(pub queue.Publisher, m *metrics.Registry) *Broadcaster {
	return &Broadcaster{pub: pub, topic: queue.TopicHIPDataFlowRequest, metrics: m}
}

func (b *Broadcaster) Broadcast(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode data flow message: %w", err)
	}
	headers := map[string]string{}
	if id := httpx.CorrelationID(ctx); id != "" {
		headers[httpx.CorrelationIDHeader] = id
	}
	err = b.pub.Publish(ctx, queue.Message{
		Topic:   b.topic,
		Key:     []byte(msg.TransactionID),
		Value:   body,
		Headers: headers,
	})
	if err != nil {
		b.metrics.IncDispatch("broadcast", "error")
		return err
	}
	b.metrics.IncDispatch("broadcast", "ok")
	return nil
}
