// Package dataflow authorizes HIU data requests against consent artefacts,
// records the resulting transactions and dispatches them to HIPs.
package dataflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/apperr"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/cache"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/consent"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/metrics"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/scheduler"
)

const ackKeyPrefix = "dataflow_ack_"

// AckKey is the cache key holding the HIP's session status for a transaction.
func AckKey(transactionID string) string {
	return ackKeyPrefix + transactionID
}

type ArtefactSource interface {
	Artefact(ctx context.Context, consentID string) (consent.ArtefactRepresentation, error)
}

type Publisher interface {
	Broadcast(ctx context.Context, msg Message) error
}

type Callback interface {
	OnRequest(ctx context.Context, hiuID string, body OnRequest) error
}

type Deps struct {
	Artefacts   ArtefactSource
	Repository  Repository
	Broadcaster Publisher
	Gateway     Callback
	// Acks holds HIP acknowledgements keyed by AckKey.
	Acks    cache.Cache
	Metrics *metrics.Registry
	Now     func() time.Time
	NewID   func() string
	// AckOptions tune AwaitAcknowledgement polling.
	AckOptions []scheduler.Option
}

type Orchestrator struct {
	artefacts ArtefactSource
	repo      Repository
	broadcast Publisher
	gateway   Callback
	acks      cache.Cache
	metrics   *metrics.Registry
	now       func() time.Time
	newID     func() string
	ackOpts   []scheduler.Option
}

func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		artefacts: d.Artefacts,
		repo:      d.Repository,
		broadcast: d.Broadcaster,
		gateway:   d.Gateway,
		acks:      d.Acks,
		metrics:   d.Metrics,
		now:       d.Now,
		newID:     d.NewID,
		ackOpts:   d.AckOptions,
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o
}

// RequestHealthData authorizes req for hiuID, records the transaction and
// queues it for the HIP. Nothing is recorded or queued for a denied request,
// and nothing is queued when recording fails.
func (o *Orchestrator) RequestHealthData(ctx context.Context, hiuID string, req Request) (string, error) {
	logger := log.Ctx(ctx).With().Str("consent_id", req.Consent.ID).Str("hiu_id", hiuID).Logger()

	artefact, err := o.artefacts.Artefact(ctx, req.Consent.ID)
	if err != nil {
		logger.Error().Err(err).Msg("consent artefact unavailable")
		return "", err
	}
	decision := consent.Authorize(hiuID, artefact, req.DateRange, o.now().UTC())
	o.metrics.IncDecision(decision.Reason.String())
	if !decision.Authorized() {
		logger.Warn().Str("reason", decision.Reason.String()).Msg("data flow request denied")
		return "", decision.Err()
	}

	effective := req
	effective.DateRange = &decision.Range
	rec := Record{
		TransactionID: o.newID(),
		ConsentID:     req.Consent.ID,
		HIUID:         hiuID,
		HIPID:         artefact.ConsentDetail.HIP.ID,
		DateRange:     decision.Range,
		Signature:     decision.Signature,
		Request:       effective,
		CreatedAt:     o.now().UTC(),
	}
	if err := o.repo.Insert(ctx, rec); err != nil {
		logger.Error().Err(err).Str("transaction_id", rec.TransactionID).Msg("failed to record data flow request")
		return "", apperr.DBOperationFailed().Wrap(fmt.Errorf("%w: %v", ErrPersistence, err))
	}
	msg := Message{TransactionID: rec.TransactionID, HIPID: rec.HIPID, DataFlowRequest: effective}
	if err := o.broadcast.Broadcast(ctx, msg); err != nil {
		logger.Error().Err(err).Str("transaction_id", rec.TransactionID).Msg("failed to queue data flow request")
		return "", err
	}
	logger.Info().Str("transaction_id", rec.TransactionID).Msg("data flow request accepted")
	return rec.TransactionID, nil
}

// RequestHealthDataInfo runs RequestHealthData for a Gateway-relayed request
// and reports the outcome to the HIU with exactly one callback. The returned
// error is the callback's; the pipeline outcome travels in the callback.
func (o *Orchestrator) RequestHealthDataInfo(ctx context.Context, hiuID string, req GatewayRequest) error {
	body := OnRequest{
		RequestID: o.newID(),
		Timestamp: consent.At(o.now()),
		Resp:      RespRef{RequestID: req.RequestID},
	}
	txnID, err := o.RequestHealthData(ctx, hiuID, req.HIRequest)
	if err != nil {
		errBody := apperr.From(err).Body()
		body.Error = &errBody
	} else {
		body.HIRequest = &TransactionStatus{TransactionID: txnID, SessionStatus: SessionRequested}
	}
	if err := o.gateway.OnRequest(ctx, hiuID, body); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("request_id", req.RequestID).Msg("on-request callback failed")
		return err
	}
	return nil
}

// HandleOnRequest records an HIP's acknowledgement of a data request.
func (o *Orchestrator) HandleOnRequest(ctx context.Context, resp OnRequest) error {
	logger := log.Ctx(ctx).With().Str("request_id", resp.Resp.RequestID).Logger()
	switch {
	case resp.HIRequest != nil:
		status := resp.HIRequest.SessionStatus
		if status == "" {
			status = SessionAcknowledged
		}
		if err := o.acks.Put(ctx, AckKey(resp.HIRequest.TransactionID), status); err != nil {
			logger.Error().Err(err).Msg("failed to record hip acknowledgement")
			return err
		}
		logger.Info().Str("transaction_id", resp.HIRequest.TransactionID).Str("session_status", status).Msg("hip acknowledged data request")
	case resp.Error != nil:
		logger.Error().Int("code", int(resp.Error.Code)).Str("message", resp.Error.Message).Msg("hip rejected data request")
	default:
		return apperr.InvalidRequest("either hiRequest or error is required")
	}
	return nil
}

// AwaitAcknowledgement waits for the HIP acknowledgement of transactionID and
// returns its session status. Transactions of another HIU are reported as not
// found. It fails with NoResultFromGateway when no acknowledgement arrives
// within timeout; zero keeps the configured default.
func (o *Orchestrator) AwaitAcknowledgement(ctx context.Context, hiuID, transactionID string, timeout time.Duration) (string, error) {
	produce := func(ctx context.Context) (string, error) {
		rec, err := o.repo.Get(ctx, transactionID)
		if errors.Is(err, ErrNotFound) {
			return "", apperr.TransactionNotFound()
		}
		if err != nil {
			return "", err
		}
		if rec.HIUID != hiuID {
			log.Ctx(ctx).Warn().Str("transaction_id", transactionID).Str("hiu_id", hiuID).Msg("acknowledgement requested by another hiu")
			return "", apperr.TransactionNotFound()
		}
		return transactionID, nil
	}
	extract := func(ctx context.Context, id string) (string, bool, error) {
		status, err := o.acks.GetIfPresent(ctx, AckKey(id))
		if errors.Is(err, cache.ErrMiss) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return status, true, nil
	}
	opts := o.ackOpts
	if timeout > 0 {
		opts = append(append([]scheduler.Option(nil), opts...), scheduler.WithTimeout(timeout))
	}
	status, err := scheduler.ResponseFrom(ctx, produce, extract, opts...)
	if errors.Is(err, scheduler.ErrTimeout) {
		return "", apperr.NoResultFromGateway().Wrap(err)
	}
	return status, err
}

// NotifyHealthInformationStatus stores a transfer status notification. A
// request id seen before is rejected with RequestAlreadyExists.
func (o *Orchestrator) NotifyHealthInformationStatus(ctx context.Context, n NotificationRequest) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	inserted, err := o.repo.InsertNotification(ctx, n.RequestID, n.Notification.TransactionID, payload)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("request_id", n.RequestID).Msg("failed to record notification")
		return apperr.DBOperationFailed().Wrap(fmt.Errorf("%w: %v", ErrPersistence, err))
	}
	if !inserted {
		return apperr.RequestAlreadyExists()
	}
	log.Ctx(ctx).Info().
		Str("transaction_id", n.Notification.TransactionID).
		Str("session_status", n.Notification.StatusNotification.SessionStatus).
		Msg("health information status recorded")
	return nil
}
