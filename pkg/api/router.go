// Package api exposes the data flow operations over HTTP.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/auth"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/dataflow"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/httpx"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/metrics"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/telemetry"
)

// DataFlow is the subset of the orchestrator the handlers drive.
type DataFlow interface {
	RequestHealthData(ctx context.Context, hiuID string, req dataflow.Request) (string, error)
	RequestHealthDataInfo(ctx context.Context, hiuID string, req dataflow.GatewayRequest) error
	HandleOnRequest(ctx context.Context, resp dataflow.OnRequest) error
	AwaitAcknowledgement(ctx context.Context, hiuID, transactionID string, timeout time.Duration) (string, error)
	NotifyHealthInformationStatus(ctx context.Context, n dataflow.NotificationRequest) error
}

type ReplayGuard interface {
	ValidateAndPut(ctx context.Context, requestID string, ts time.Time) error
}

type Revoker interface {
	Revoke(ctx context.Context, credential string) error
}

type Deps struct {
	Users       auth.CallerVerifier
	Gateway     auth.ServiceCallerVerifier
	Replay      ReplayGuard
	Blacklist   Revoker
	DataFlow    DataFlow
	Metrics     *metrics.Registry
	CORSOrigins string
	ServiceName string
	AckTimeout  time.Duration
}

type Server struct {
	d Deps
	// spawn runs Gateway-path work after the 202 has been written.
	spawn func(func())
}

func New(d Deps) *Server {
	if d.AckTimeout <= 0 {
		d.AckTimeout = 5 * time.Second
	}
	return &Server{d: d, spawn: func(fn func()) { go fn() }}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.CorrelationIDMiddleware)
	r.Use(httpx.LoggingMiddleware(s.d.Metrics, routePattern))
	r.Use(httpx.RecoverMiddleware)
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(httpx.CORSMiddleware(s.d.CORSOrigins))
	r.Use(telemetry.HTTPMiddleware(s.d.ServiceName))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.d.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(s.d.Users))
		r.Post("/health-information/request", s.requestHealthData)
		r.Get("/health-information/request/{transactionId}/acknowledgement", s.acknowledgement)
		r.Post("/sessions/logout", s.logout)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireService(s.d.Gateway, auth.RoleGateway))
		r.Post("/v1/health-information/request", s.gatewayRequest)
		r.Post("/v1/health-information/on-request", s.onRequest)
		r.Post("/v1/health-information/notify", s.notify)
	})
	return r
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// callerHIU is the HIU a user-token request acts for: the verified caller.
// X-HIU-ID is only trusted on Gateway routes.
func callerHIU(r *http.Request) string {
	caller, _ := auth.CallerFromContext(r.Context())
	return caller.Username
}

// gatewayHIU reads the HIU the Gateway relays a request for.
func gatewayHIU(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(dataflow.HeaderHIUID))
}
