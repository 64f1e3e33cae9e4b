package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/cache"
)

// Validate checks settings every environment needs, then the hardening rules
// that apply to production-like environments.
func (c Config) Validate() error {
	switch strings.ToLower(c.Cache.Backend) {
	case "", cache.BackendMemory, cache.BackendRedis, "guava":
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}
	if c.Replay.Past <= 0 || c.Replay.Future <= 0 {
		return fmt.Errorf("replay: past and future must be positive")
	}
	for name, raw := range map[string]string{
		"identity.url": c.Identity.URL,
		"gateway.url":  c.Gateway.URL,
		"consent.url":  c.Consent.URL,
	} {
		if err := validURL(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return c.validateProduction()
}

func validURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("expected http(s) url, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// IsProductionLike reports whether env names a production or staging deployment.
func IsProductionLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}

func (c Config) validateProduction() error {
	if !IsProductionLike(c.Env) || !c.StrictProdSecurity {
		return nil
	}
	if !c.Database.RequireTLS {
		return fmt.Errorf("strict production hardening requires database.require_tls=true")
	}
	if strings.EqualFold(c.Cache.Backend, cache.BackendRedis) {
		if !c.Redis.RequireTLS {
			return fmt.Errorf("strict production hardening requires redis.require_tls=true")
		}
		if c.Redis.TLSInsecure || c.Redis.AllowInsecureTLS {
			return fmt.Errorf("strict production hardening forbids redis.tls_insecure/redis.allow_insecure_tls")
		}
	}
	if err := validateCORSOrigins(c.HTTP.CORSOrigins); err != nil {
		return err
	}
	for name, value := range map[string]string{
		"identity.client_secret": c.Identity.ClientSecret,
		"gateway.client_secret":  c.Gateway.ClientSecret,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("strict production hardening requires %s", name)
		}
	}
	return nil
}

func validateCORSOrigins(raw string) error {
	validCount := 0
	for _, origin := range strings.Split(raw, ",") {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		validCount++
		lower := strings.ToLower(o)
		if lower == "*" {
			return fmt.Errorf("strict production hardening forbids CORS wildcard origin")
		}
		if strings.HasPrefix(lower, "http://localhost") || strings.HasPrefix(lower, "https://localhost") ||
			strings.HasPrefix(lower, "http://127.0.0.1") || strings.HasPrefix(lower, "https://127.0.0.1") {
			return fmt.Errorf("strict production hardening forbids localhost CORS origin %q", o)
		}
		if !strings.HasPrefix(lower, "https://") {
			return fmt.Errorf("strict production hardening requires HTTPS CORS origin, got %q", o)
		}
	}
	if validCount == 0 {
		return fmt.Errorf("strict production hardening requires explicit http.cors_allowed_origins")
	}
	return nil
}
