package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/apperr"
)

// SecurityHeadersMiddleware applies baseline hardening headers to API responses.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware enforces an explicit origin allowlist from comma-separated origins.
func CORSMiddleware(allowedOrigins string) func(http.Handler) http.Handler {
	allowed := map[string]struct{}{}
	allowAll := false
	for _, part := range strings.Split(allowedOrigins, ",") {
		origin := strings.TrimSpace(part)
		switch origin {
		case "":
		case "*":
			allowAll = true
		default:
			allowed[origin] = struct{}{}
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := allowed[origin]; !ok && !allowAll {
				if preflight {
					Error(w, http.StatusForbidden, "origin not allowed")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-HIU-ID,"+CorrelationIDHeader)
			h.Set("Access-Control-Max-Age", "600")
			if preflight {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error apperr.Body `json:"error"`
}

func Error(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: apperr.Body{Code: apperr.CodeInvalidRequest, Message: msg}})
}

// WriteError maps err to its client error and writes it. Server-side failures
// are logged with their cause; the cause never reaches the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ce := apperr.From(err)
	if ce.Status >= http.StatusInternalServerError {
		log.Ctx(r.Context()).Error().Err(err).Int("code", int(ce.Code)).Msg("request.failed")
	}
	WriteJSON(w, ce.Status, ErrorResponse{Error: ce.Body()})
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeJSON reads a JSON body into dst and runs struct validation on it.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return apperr.InvalidRequest("malformed request body").Wrap(err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.InvalidRequest("invalid field " + verrs[0].Namespace()).Wrap(err)
		}
		return apperr.InvalidRequest("invalid request body").Wrap(err)
	}
	return nil
}
