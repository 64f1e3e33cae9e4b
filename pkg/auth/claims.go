package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var errMissingClaim = errors.New("missing required claim")

type commonClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

func (c commonClaims) validate() error {
	switch {
	case c.Subject == "":
		return fmtMissing("sub")
	case c.IssuedAt == nil:
		return fmtMissing("iat")
	case c.ExpiresAt == nil:
		return fmtMissing("exp")
	case c.Scope == "":
		return fmtMissing("scope")
	}
	return nil
}

// UserClaims are the claims of an identity-provider user token.
type UserClaims struct {
	commonClaims
	PreferredUsername string `json:"preferred_username"`
	SessionState      string `json:"session_state,omitempty"`
	SID               string `json:"sid,omitempty"`
}

// Validate is invoked by the jwt parser after the registered claims checks.
func (c UserClaims) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.PreferredUsername == "" {
		return fmtMissing("preferred_username")
	}
	return nil
}

type resourceAccess struct {
	Roles []string `json:"roles"`
}

// ServiceClaims are the claims of a Gateway-issued service token.
type ServiceClaims struct {
	commonClaims
	ClientID       string                    `json:"clientId"`
	ResourceAccess map[string]resourceAccess `json:"resource_access"`
}

func (c ServiceClaims) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.ClientID == "" {
		return fmtMissing("clientId")
	}
	if c.ResourceAccess == nil {
		return fmtMissing("resource_access")
	}
	return nil
}

// Roles maps resource_access.{clientId}.roles onto known roles, dropping
// unknown strings.
func (c ServiceClaims) Roles() ([]Role, bool) {
	access, ok := c.ResourceAccess[c.ClientID]
	if !ok {
		return nil, false
	}
	roles := make([]Role, 0, len(access.Roles))
	for _, s := range access.Roles {
		if r, ok := ParseRole(s); ok {
			roles = append(roles, r)
		}
	}
	return roles, true
}

type missingClaimError struct{ name string }

func (e missingClaimError) Error() string { return errMissingClaim.Error() + ": " + e.name }
func (e missingClaimError) Unwrap() error { return errMissingClaim }

func fmtMissing(name string) error { return missingClaimError{name: name} }
