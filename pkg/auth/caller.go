package auth

import (
	"context"
	"strings"
)

// Caller is a user, or a service acting as a user, resolved from a verified
// token.
type Caller struct {
	Username         string
	IsServiceAccount bool
	SessionID        string
}

// ServiceCaller is a client resolved from a verified service token.
type ServiceCaller struct {
	ClientID string
	Roles    []Role
}

type Role string

const RoleGateway Role = "GATEWAY"

var knownRoles = []Role{RoleGateway}

// ParseRole matches s case-insensitively against the known roles.
func ParseRole(s string) (Role, bool) {
	for _, r := range knownRoles {
		if strings.EqualFold(strings.TrimSpace(s), string(r)) {
			return r, true
		}
	}
	return "", false
}

// HasAnyRole reports whether the caller carries at least one of required.
// An empty required list always passes.
func (s ServiceCaller) HasAnyRole(required ...Role) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		for _, have := range s.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

type contextKey int

const (
	callerKey contextKey = iota
	serviceCallerKey
	credentialKey
)

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

func WithServiceCaller(ctx context.Context, s ServiceCaller) context.Context {
	return context.WithValue(ctx, serviceCallerKey, s)
}

func ServiceCallerFromContext(ctx context.Context) (ServiceCaller, bool) {
	s, ok := ctx.Value(serviceCallerKey).(ServiceCaller)
	return s, ok
}

func withCredential(ctx context.Context, credential string) context.Context {
	return context.WithValue(ctx, credentialKey, credential)
}

// CredentialFromContext returns the raw token of a verified request, for
// handlers that revoke it.
func CredentialFromContext(ctx context.Context) (string, bool) {
	c, ok := ctx.Value(credentialKey).(string)
	return c, ok && c != ""
}

// SplitAuthorization returns the credential of a "<scheme> <credential>"
// header. Any other shape is rejected; the scheme itself is not checked.
func SplitAuthorization(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
