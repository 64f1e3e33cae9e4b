package auth

import (
	"context"
	"crypto"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
)

// Keys resolves a verification key by key id.
type Keys interface {
	Key(kid string) (crypto.PublicKey, error)
}

// KeySet is an immutable set of RSA verification keys, fetched once.
type KeySet struct {
	byKID map[string]*rsa.PublicKey
}

// LoadJWKS fetches and decodes a JWKS document. Callers treat a failure as
// fatal for the verifier that needed it.
func LoadJWKS(ctx context.Context, url string, client *http.Client) (*KeySet, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("jwks url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("jwks status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	return NewKeySet(set)
}

// NewKeySet keeps the RSA signing keys of set.
func NewKeySet(set jose.JSONWebKeySet) (*KeySet, error) {
	keys := map[string]*rsa.PublicKey{}
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		pub, ok := k.Key.(*rsa.PublicKey)
		if !ok {
			continue
		}
		keys[strings.TrimSpace(k.KeyID)] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks contained no usable rsa keys")
	}
	return &KeySet{byKID: keys}, nil
}

// Key returns the key for kid. A token without a kid is accepted only when
// the set holds exactly one key.
func (s *KeySet) Key(kid string) (crypto.PublicKey, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		if len(s.byKID) == 1 {
			for _, k := range s.byKID {
				return k, nil
			}
		}
		return nil, errors.New("missing kid")
	}
	k, ok := s.byKID[kid]
	if !ok {
		return nil, fmt.Errorf("kid not found: %s", kid)
	}
	return k, nil
}
