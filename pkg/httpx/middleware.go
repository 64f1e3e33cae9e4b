package httpx

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

const CorrelationIDHeader = "X-Correlation-ID"

type correlationKey struct{}

// CorrelationID returns the id attached by CorrelationIDMiddleware.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if id == "" {
			id = xid.New().String()
		}
		w.Header().Set(CorrelationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithCorrelationID(r.Context(), id)))
	})
}

// Observer receives per-request route, status and latency.
type Observer interface {
	Observe(route string, status int, d time.Duration)
}

// LoggingMiddleware attaches a request-scoped logger to the context and logs
// the outcome. routeOf names the matched route for obs; it may be nil.
func LoggingMiddleware(obs Observer, routeOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			l := log.With().
				Str("correlation_id", CorrelationID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()
			ww := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r.WithContext(l.WithContext(r.Context())))

			elapsed := time.Since(start)
			if obs != nil {
				route := r.URL.Path
				if routeOf != nil {
					if name := routeOf(r); name != "" {
						route = name
					}
				}
				obs.Observe(r.Method+" "+route, ww.statusCode, elapsed)
			}
			if r.URL.Path == "/healthz" && ww.statusCode < 400 {
				return
			}
			l.Info().Int("status", ww.statusCode).Dur("duration", elapsed).Msg("request.handled")
		})
	}
}

func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Ctx(r.Context()).Error().
					Interface("panic", err).
					Bytes("stack", debug.Stack()).
					Msg("panic.recovered")
				Error(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
