package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns the consent manager collectors. A nil *Registry is valid and
// records nothing, so components can be built without metrics in tests.
type Registry struct {
	reg           *prometheus.Registry
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	verifications *prometheus.CounterVec
	replay        *prometheus.CounterVec
	cacheOps      *prometheus.CounterVec
	tokenRefresh  *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	dispatch      *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "cm_http_requests_total", Help: "HTTP requests by route and status"},
			[]string{"route", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "cm_http_request_duration_seconds", Help: "HTTP latency by route", Buckets: prometheus.DefBuckets},
			[]string{"route"},
		),
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "cm_token_verifications_total", Help: "Inbound token verifications by verifier and outcome"},
			[]string{"verifier", "outcome"},
		),
		replay: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "cm_replay_checks_total", Help: "Replay guard outcomes"},
			[]string{"outcome"},
		),
		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "cm_token_cache_lookups_total", Help: "Access token cache lookups by key and result"},
			[]string{"key", "result"},
		),
		tokenRefresh: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "cm_token_refresh_total", Help: "Upstream token exchanges by key and outcome"},
			[]string{"key", "outcome"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "cm_consent_decisions_total", Help: "Data flow authorization decisions"},
			[]string{"outcome"},
		),
		dispatch: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "cm_dataflow_dispatch_total", Help: "Data flow messages by stage and outcome"},
			[]string{"stage", "outcome"},
		),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.httpRequests, r.httpLatency, r.verifications, r.replay,
		r.cacheOps, r.tokenRefresh, r.decisions, r.dispatch,
	)
	return r
}

func (r *Registry) Observe(route string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	r.httpLatency.WithLabelValues(route).Observe(d.Seconds())
}

func (r *Registry) IncVerification(verifier, outcome string) {
	if r == nil {
		return
	}
	r.verifications.WithLabelValues(verifier, outcome).Inc()
}

func (r *Registry) IncReplay(outcome string) {
	if r == nil {
		return
	}
	r.replay.WithLabelValues(outcome).Inc()
}

func (r *Registry) IncTokenCache(key, result string) {
	if r == nil {
		return
	}
	r.cacheOps.WithLabelValues(key, result).Inc()
}

func (r *Registry) IncTokenRefresh(key, outcome string) {
	if r == nil {
		return
	}
	r.tokenRefresh.WithLabelValues(key, outcome).Inc()
}

func (r *Registry) IncDecision(outcome string) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(outcome).Inc()
}

func (r *Registry) IncDispatch(stage, outcome string) {
	if r == nil {
		return
	}
	r.dispatch.WithLabelValues(stage, outcome).Inc()
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
