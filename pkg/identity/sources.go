package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/apperr"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/httpx"
)

// ClientCredentials performs the OAuth2 client-credentials grant against the
// identity provider with scope "openid", sending the credentials in the form.
type ClientCredentials struct {
	cfg        clientcredentials.Config
	httpClient *http.Client
}

// TokenURL returns the Keycloak-style token endpoint under baseURL.
func TokenURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/protocol/openid-connect/token"
}

func NewClientCredentials(tokenURL, clientID, clientSecret string, httpClient *http.Client) *ClientCredentials {
	return &ClientCredentials{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{oidc.ScopeOpenID},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
	}
}

func (c *ClientCredentials) ClientID() string { return c.cfg.ClientID }

func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	tok, err := c.cfg.Token(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
			log.Ctx(ctx).Error().Int("status", re.Response.StatusCode).Str("client_id", c.cfg.ClientID).Msg("identity provider rejected client credentials")
			return "", apperr.UpstreamUnauthorized().Wrap(err)
		}
		return "", apperr.NetworkServiceCallFailed().Wrap(err)
	}
	return tok.AccessToken, nil
}

// Endpoints are the provider URLs found through OIDC discovery.
type Endpoints struct {
	Issuer   string
	TokenURL string
	JWKSURL  string
}

// Discover reads {issuer}/.well-known/openid-configuration.
func Discover(ctx context.Context, issuerURL string, httpClient *http.Client) (Endpoints, error) {
	if httpClient != nil {
		ctx = oidc.ClientContext(ctx, httpClient)
	}
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return Endpoints{}, fmt.Errorf("discover %s: %w", issuerURL, err)
	}
	var doc struct {
		Issuer  string `json:"issuer"`
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&doc); err != nil {
		return Endpoints{}, fmt.Errorf("read discovery document: %w", err)
	}
	return Endpoints{Issuer: doc.Issuer, TokenURL: provider.Endpoint().TokenURL, JWKSURL: doc.JWKSURI}, nil
}

// GatewaySessions obtains a service session from the Gateway: POST /sessions
// with {"clientId","clientSecret"}.
type GatewaySessions struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

func NewGatewaySessions(baseURL, clientID, clientSecret string, httpClient *http.Client) *GatewaySessions {
	return &GatewaySessions{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
	}
}

func (g *GatewaySessions) ClientID() string { return g.clientID }

type sessionRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type session struct {
	AccessToken  string `json:"accessToken"`
	ExpiresIn    int    `json:"expiresIn"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
}

func (g *GatewaySessions) Token(ctx context.Context) (string, error) {
	status, body, err := httpx.PostJSON(ctx, g.httpClient, g.baseURL+"/sessions",
		sessionRequest{ClientID: g.clientID, ClientSecret: g.clientSecret}, nil)
	if err != nil {
		return "", apperr.NetworkServiceCallFailed().Wrap(err)
	}
	if status < 200 || status > 299 {
		log.Ctx(ctx).Error().Int("status", status).Str("client_id", g.clientID).Msg("gateway rejected session request")
		return "", apperr.UpstreamUnauthorized().Wrap(fmt.Errorf("gateway sessions returned %d", status))
	}
	var s session
	if err := json.Unmarshal(body, &s); err != nil || s.AccessToken == "" {
		return "", apperr.InvalidResponseFromGateway().Wrap(fmt.Errorf("decode session: %v", err))
	}
	return s.AccessToken, nil
}
