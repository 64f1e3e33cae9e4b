package dataflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/consent"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/httpx"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/metrics"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/queue"
)

// HIPNotifier delivers a data request to an HIP.
type HIPNotifier interface {
	NotifyHIP(ctx context.Context, hipID string, req DataRequest) error
}

// Listener consumes broadcast messages and forwards them to HIPs. A message
// that cannot be delivered is dead-lettered, never retried.
type Listener struct {
	consumer queue.Consumer
	dlq      queue.Publisher
	hip      HIPNotifier
	repo     Repository
	now      func() time.Time
	newID    func() string
	metrics  *metrics.Registry
}

type ListenerOption func(*Listener)

func WithListenerClock(now func() time.Time) ListenerOption {
	return func(l *Listener) { l.now = now }
}

func WithListenerIDs(newID func() string) ListenerOption {
	return func(l *Listener) { l.newID = newID }
}

// NewListener builds a listener. repo is consulted only for messages that
// arrive without an HIP id and may be nil.
func NewListener(c queue.Consumer, dlq queue.Publisher, hip HIPNotifier, repo Repository, m *metrics.Registry, opts ...ListenerOption) *Listener {
	l := &Listener{
		consumer: c,
		dlq:      dlq,
		hip:      hip,
		repo:     repo,
		now:      time.Now,
		newID:    uuid.NewString,
		metrics:  m,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run blocks until ctx is done or the consumer fails.
func (l *Listener) Run(ctx context.Context) error {
	log.Ctx(ctx).Info().Msg("data flow listener started")
	return queue.Run(ctx, l.consumer, l.dlq, l.Handle)
}

func (l *Listener) Handle(ctx context.Context, qm queue.Message) error {
	if id := qm.Headers[httpx.CorrelationIDHeader]; id != "" {
		ctx = httpx.WithCorrelationID(ctx, id)
	}
	var msg Message
	if err := json.Unmarshal(qm.Value, &msg); err != nil {
		l.metrics.IncDispatch("hip", "malformed")
		return fmt.Errorf("decode data flow message: %w", err)
	}
	hipID, err := l.hipFor(ctx, msg)
	if err != nil {
		l.metrics.IncDispatch("hip", "error")
		return err
	}
	req := msg.DataFlowRequest
	var dateRange consent.DateRange
	if req.DateRange != nil {
		dateRange = *req.DateRange
	}
	dataRequest := DataRequest{
		TransactionID: msg.TransactionID,
		RequestID:     l.newID(),
		Timestamp:     consent.At(l.now()),
		HIRequest: HIRequest{
			Consent:     req.Consent,
			DataPushURL: req.DataPushURL,
			DateRange:   dateRange,
			KeyMaterial: req.KeyMaterial,
		},
	}
	if err := l.hip.NotifyHIP(ctx, hipID, dataRequest); err != nil {
		l.metrics.IncDispatch("hip", "error")
		return fmt.Errorf("notify hip %s for %s: %w", hipID, msg.TransactionID, err)
	}
	l.metrics.IncDispatch("hip", "ok")
	log.Ctx(ctx).Info().Str("transaction_id", msg.TransactionID).Str("hip_id", hipID).Msg("data request sent to hip")
	return nil
}

func (l *Listener) hipFor(ctx context.Context, msg Message) (string, error) {
	if msg.HIPID != "" {
		return msg.HIPID, nil
	}
	if l.repo == nil {
		return "", fmt.Errorf("message %s carries no hip id", msg.TransactionID)
	}
	rec, err := l.repo.Get(ctx, msg.TransactionID)
	if err != nil {
		return "", fmt.Errorf("resolve hip for %s: %w", msg.TransactionID, err)
	}
	return rec.HIPID, nil
}
