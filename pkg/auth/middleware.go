package auth

import (
	"context"
	"net/http"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/apperr"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/httpx"
)

type CallerVerifier interface {
	Verify(ctx context.Context, header string) (Caller, bool)
}

type ServiceCallerVerifier interface {
	Verify(ctx context.Context, header string) (ServiceCaller, bool)
}

// RequireUser rejects requests without a verifiable caller with 401.
func RequireUser(v CallerVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			caller, ok := v.Verify(r.Context(), header)
			if !ok {
				httpx.WriteError(w, r, apperr.Unauthorized())
				return
			}
			credential, _ := SplitAuthorization(header)
			ctx := withCredential(WithCaller(r.Context(), caller), credential)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireService rejects unverifiable tokens with 401 and callers lacking
// every one of roles with 403.
func RequireService(v ServiceCallerVerifier, roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := v.Verify(r.Context(), r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(w, r, apperr.Unauthorized())
				return
			}
			if !caller.HasAnyRole(roles...) {
				httpx.WriteError(w, r, apperr.Forbidden())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithServiceCaller(r.Context(), caller)))
		})
	}
}
