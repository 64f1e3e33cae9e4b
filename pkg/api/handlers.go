package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/apperr"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/auth"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/dataflow"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/httpx"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/telemetry"
)

type transactionResponse struct {
	TransactionID string `json:"transactionId"`
}

func (s *Server) requestHealthData(w http.ResponseWriter, r *http.Request) {
	var req dataflow.Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	hiuID := callerHIU(r)
	txnID, err := s.d.DataFlow.RequestHealthData(r.Context(), hiuID, req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	telemetry.TagTransaction(r.Context(), txnID, hiuID)
	httpx.WriteJSON(w, http.StatusAccepted, transactionResponse{TransactionID: txnID})
}

func (s *Server) acknowledgement(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "transactionId")
	status, err := s.d.DataFlow.AwaitAcknowledgement(r.Context(), callerHIU(r), txnID, s.d.AckTimeout)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, dataflow.TransactionStatus{TransactionID: txnID, SessionStatus: status})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	credential, ok := auth.CredentialFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, apperr.Unauthorized())
		return
	}
	if err := s.d.Blacklist.Revoke(r.Context(), credential); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) gatewayRequest(w http.ResponseWriter, r *http.Request) {
	hiuID := gatewayHIU(r)
	if hiuID == "" {
		httpx.WriteError(w, r, apperr.InvalidRequest("missing "+dataflow.HeaderHIUID+" header"))
		return
	}
	var req dataflow.GatewayRequest
	if !s.acceptGateway(w, r, &req, func() (string, time.Time) { return req.RequestID, req.Timestamp.Time }) {
		return
	}
	s.background(w, r, "health information request", req.RequestID, func(ctx context.Context) error {
		telemetry.TagTransaction(ctx, "", hiuID)
		return s.d.DataFlow.RequestHealthDataInfo(ctx, hiuID, req)
	})
}

func (s *Server) onRequest(w http.ResponseWriter, r *http.Request) {
	var resp dataflow.OnRequest
	if !s.acceptGateway(w, r, &resp, func() (string, time.Time) { return resp.RequestID, resp.Timestamp.Time }) {
		return
	}
	s.background(w, r, "health information on-request", resp.RequestID, func(ctx context.Context) error {
		return s.d.DataFlow.HandleOnRequest(ctx, resp)
	})
}

func (s *Server) notify(w http.ResponseWriter, r *http.Request) {
	var n dataflow.NotificationRequest
	if !s.acceptGateway(w, r, &n, func() (string, time.Time) { return n.RequestID, n.Timestamp.Time }) {
		return
	}
	s.background(w, r, "health information notification", n.RequestID, func(ctx context.Context) error {
		return s.d.DataFlow.NotifyHealthInformationStatus(ctx, n)
	})
}

// acceptGateway decodes dst and records its request id in the replay
// ledger. It writes the error response itself and reports whether the
// handler may continue.
func (s *Server) acceptGateway(w http.ResponseWriter, r *http.Request, dst any, id func() (string, time.Time)) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.WriteError(w, r, err)
		return false
	}
	requestID, ts := id()
	if err := s.d.Replay.ValidateAndPut(r.Context(), requestID, ts); err != nil {
		httpx.WriteError(w, r, err)
		return false
	}
	return true
}

// background answers 202 and runs fn detached from the request lifetime
// inside its own span. Its outcome reaches the Gateway only through
// callbacks.
func (s *Server) background(w http.ResponseWriter, r *http.Request, what, requestID string, fn func(ctx context.Context) error) {
	ctx := context.WithoutCancel(r.Context())
	w.WriteHeader(http.StatusAccepted)
	s.spawn(func() {
		ctx, span := telemetry.StartExchange(ctx, what, requestID)
		err := fn(ctx)
		telemetry.Finish(span, err)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("operation", what).Str("request_id", requestID).Msg("gateway request failed")
		}
	})
}
