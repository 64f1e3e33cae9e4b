package consent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/apperr"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/httpx"
)

// Authenticator supplies the Authorization header value for outbound calls.
type Authenticator interface {
	Authenticate(ctx context.Context) (string, error)
}

// Client fetches consent artefacts from the consent service's internal API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       Authenticator
	retries    int
	retryDelay time.Duration
}

func NewClient(baseURL string, httpClient *http.Client, auth Authenticator) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient, auth: auth}
}

// WithRetries retries transport errors and 5xx responses.
func (c *Client) WithRetries(retries int, delay time.Duration) *Client {
	c.retries, c.retryDelay = retries, delay
	return c
}

// Artefact returns the artefact with id. Any non-2xx answer is reported as
// not found.
func (c *Client) Artefact(ctx context.Context, id string) (ArtefactRepresentation, error) {
	token, err := c.auth.Authenticate(ctx)
	if err != nil {
		return ArtefactRepresentation{}, err
	}
	status, body, err := httpx.RequestJSON(ctx, c.httpClient, http.MethodGet,
		c.baseURL+"/internal/consents/"+url.PathEscape(id), nil,
		map[string]string{"Authorization": token}, c.retries, c.retryDelay)
	if err != nil {
		return ArtefactRepresentation{}, apperr.NetworkServiceCallFailed().Wrap(err)
	}
	if status < 200 || status > 299 {
		log.Ctx(ctx).Error().Int("status", status).Str("consent_id", id).Bytes("body", truncate(body)).Msg("consent artefact fetch failed")
		return ArtefactRepresentation{}, apperr.ConsentArtefactNotFound()
	}
	var artefact ArtefactRepresentation
	if err := json.Unmarshal(body, &artefact); err != nil {
		return ArtefactRepresentation{}, apperr.ConsentArtefactNotFound().Wrap(err)
	}
	return artefact, nil
}

func truncate(b []byte) []byte {
	if len(b) > 256 {
		return b[:256]
	}
	return b
}
