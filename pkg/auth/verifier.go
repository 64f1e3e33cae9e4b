package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/logging"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/metrics"
)

const serviceAccountPrefix = "service-account-"

type verifierConfig struct {
	issuer    string
	blacklist *Blacklist
	now       func() time.Time
	leeway    time.Duration
	metrics   *metrics.Registry
}

type VerifierOption func(*verifierConfig)

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) VerifierOption {
	return func(c *verifierConfig) { c.issuer = strings.TrimSpace(issuer) }
}

// WithBlacklist rejects revoked credentials before any signature work.
func WithBlacklist(b *Blacklist) VerifierOption {
	return func(c *verifierConfig) { c.blacklist = b }
}

func WithClock(now func() time.Time) VerifierOption {
	return func(c *verifierConfig) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLeeway(d time.Duration) VerifierOption {
	return func(c *verifierConfig) { c.leeway = d }
}

func WithMetrics(m *metrics.Registry) VerifierOption {
	return func(c *verifierConfig) { c.metrics = m }
}

// verifier runs the shared pipeline: split header, blacklist check, RS256
// signature and registered claims, then the typed claims' Validate.
type verifier struct {
	name   string
	keys   Keys
	parser *jwt.Parser
	cfg    verifierConfig
}

func newVerifier(name string, keys Keys, opts []VerifierOption) verifier {
	cfg := verifierConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(cfg.now),
		jwt.WithLeeway(cfg.leeway),
	}
	if cfg.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.issuer))
	}
	return verifier{name: name, keys: keys, parser: jwt.NewParser(parserOpts...), cfg: cfg}
}

func (v verifier) keyFunc(t *jwt.Token) (interface{}, error) {
	if typ, _ := t.Header["typ"].(string); !strings.EqualFold(typ, "JWT") {
		return nil, fmt.Errorf("unexpected token type %q", typ)
	}
	kid, _ := t.Header["kid"].(string)
	return v.keys.Key(kid)
}

// verify returns the credential and fills claims, or reports why it did not.
func (v verifier) verify(ctx context.Context, header string, claims jwt.Claims) (string, error) {
	credential, ok := SplitAuthorization(header)
	if !ok {
		return "", errors.New("malformed authorization header")
	}
	if v.cfg.blacklist != nil {
		revoked, err := v.cfg.blacklist.IsRevoked(ctx, credential)
		if err != nil {
			return credential, fmt.Errorf("blacklist unavailable: %w", err)
		}
		if revoked {
			return credential, errors.New("token is blacklisted")
		}
	}
	if _, err := v.parser.ParseWithClaims(credential, claims, v.keyFunc); err != nil {
		return credential, err
	}
	return credential, nil
}

func (v verifier) rejected(ctx context.Context, credential string, err error) {
	v.cfg.metrics.IncVerification(v.name, "rejected")
	log.Ctx(ctx).Warn().
		Err(err).
		Str("verifier", v.name).
		Str("token", logging.Fingerprint(credential)).
		Msg("unauthorized access")
}

func (v verifier) resolved() {
	v.cfg.metrics.IncVerification(v.name, "resolved")
}

// UserVerifier resolves identity-provider user tokens.
type UserVerifier struct{ verifier }

func NewUserVerifier(keys Keys, opts ...VerifierOption) *UserVerifier {
	return &UserVerifier{newVerifier("user", keys, opts)}
}

// Verify never returns an error: any failure yields (Caller{}, false).
func (u *UserVerifier) Verify(ctx context.Context, header string) (Caller, bool) {
	var claims UserClaims
	credential, err := u.verify(ctx, header, &claims)
	if err != nil {
		u.rejected(ctx, credential, err)
		return Caller{}, false
	}
	u.resolved()
	return callerFrom(claims), true
}

func callerFrom(claims UserClaims) Caller {
	username, isService := strings.CutPrefix(claims.PreferredUsername, serviceAccountPrefix)
	session := claims.SessionState
	if session == "" {
		session = claims.SID
	}
	return Caller{Username: username, IsServiceAccount: isService, SessionID: session}
}

// ServiceVerifier resolves Gateway-issued service tokens with their roles.
type ServiceVerifier struct{ verifier }

func NewServiceVerifier(keys Keys, opts ...VerifierOption) *ServiceVerifier {
	return &ServiceVerifier{newVerifier("service", keys, opts)}
}

func (s *ServiceVerifier) Verify(ctx context.Context, header string) (ServiceCaller, bool) {
	var claims ServiceClaims
	credential, err := s.verify(ctx, header, &claims)
	if err != nil {
		s.rejected(ctx, credential, err)
		return ServiceCaller{}, false
	}
	roles, ok := claims.Roles()
	if !ok {
		s.rejected(ctx, credential, fmt.Errorf("resource_access has no entry for %s", claims.ClientID))
		return ServiceCaller{}, false
	}
	s.resolved()
	return ServiceCaller{ClientID: claims.ClientID, Roles: roles}, true
}

// GatewayVerifier resolves a service token into a Caller whose username is
// the client id, for endpoints the Gateway calls on behalf of a participant.
type GatewayVerifier struct{ verifier }

func NewGatewayVerifier(keys Keys, opts ...VerifierOption) *GatewayVerifier {
	return &GatewayVerifier{newVerifier("gateway", keys, opts)}
}

func (g *GatewayVerifier) Verify(ctx context.Context, header string) (Caller, bool) {
	var claims ServiceClaims
	credential, err := g.verify(ctx, header, &claims)
	if err != nil {
		g.rejected(ctx, credential, err)
		return Caller{}, false
	}
	g.resolved()
	return Caller{Username: claims.ClientID, IsServiceAccount: true}, true
}
