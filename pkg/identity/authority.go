// Package identity acquires the access tokens the consent manager presents on
// its own outbound calls.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/cache"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/metrics"
)

const (
	// KeyIdentityProvider caches the token issued by the identity provider.
	KeyIdentityProvider = "consentManager:accessToken"
	// KeyGateway caches the session token issued by the Gateway.
	KeyGateway = "consentManager:gateway:accessToken"
)

// TokenKey builds "{service}:{purpose}:accessToken"; an empty purpose yields
// "{service}:accessToken".
func TokenKey(service, purpose string) string {
	if purpose == "" {
		return service + ":accessToken"
	}
	return service + ":" + purpose + ":accessToken"
}

// TokenSource exchanges client credentials for a raw access token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenAuthority returns a bearer token from the cache, fetching and caching a
// fresh one on a miss. There is no local expiry check: the cache TTL must stay
// below the upstream token lifetime. Concurrent misses may each fetch a token;
// the last write wins.
type TokenAuthority struct {
	cache   cache.Cache
	key     string
	source  TokenSource
	metrics *metrics.Registry
}

func NewTokenAuthority(c cache.Cache, key string, source TokenSource, m *metrics.Registry) *TokenAuthority {
	return &TokenAuthority{cache: c, key: key, source: source, metrics: m}
}

// Authenticate returns "Bearer <token>". Cache failures are treated as a miss
// on read and ignored on write.
func (a *TokenAuthority) Authenticate(ctx context.Context) (string, error) {
	token, err := a.cache.GetIfPresent(ctx, a.key)
	switch {
	case err == nil:
		a.metrics.IncTokenCache(a.key, "hit")
		return "Bearer " + token, nil
	case errors.Is(err, cache.ErrMiss):
		a.metrics.IncTokenCache(a.key, "miss")
	default:
		a.metrics.IncTokenCache(a.key, "error")
		log.Ctx(ctx).Warn().Err(err).Str("key", a.key).Msg("token cache read failed, fetching a new token")
	}

	token, err = a.source.Token(ctx)
	if err != nil {
		a.metrics.IncTokenRefresh(a.key, "error")
		return "", fmt.Errorf("fetch access token for %s: %w", a.key, err)
	}
	a.metrics.IncTokenRefresh(a.key, "ok")
	if err := a.cache.Put(ctx, a.key, token); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", a.key).Msg("token cache write failed")
	}
	return "Bearer " + token, nil
}
