package dataflow

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/apperr"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/httpx"
)

const (
	pathCMOnRequest = "/v1/health-information/cm/on-request"
	pathHIPRequest  = "/v1/health-information/hip/request"
)

// Authenticator supplies the Authorization header for Gateway calls.
type Authenticator interface {
	Authenticate(ctx context.Context) (string, error)
}

// GatewayClient posts callbacks and HIP requests to the Gateway. Calls are
// not retried.
type GatewayClient struct {
	baseURL    string
	httpClient *http.Client
	auth       Authenticator
}

func NewGatewayClient(baseURL string, httpClient *http.Client, auth Authenticator) *GatewayClient {
	return &GatewayClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient, auth: auth}
}

// OnRequest delivers the outcome of a Gateway-relayed request to the HIU.
func (g *GatewayClient) OnRequest(ctx context.Context, hiuID string, body OnRequest) error {
	return g.post(ctx, pathCMOnRequest, HeaderHIUID, hiuID, body)
}

// NotifyHIP forwards an authorized data request to the HIP.
func (g *GatewayClient) NotifyHIP(ctx context.Context, hipID string, body DataRequest) error {
	return g.post(ctx, pathHIPRequest, HeaderHIPID, hipID, body)
}

func (g *GatewayClient) post(ctx context.Context, path, routingHeader, routingID string, body any) error {
	token, err := g.auth.Authenticate(ctx)
	if err != nil {
		return err
	}
	status, resp, err := httpx.PostJSON(ctx, g.httpClient, g.baseURL+path, body, map[string]string{
		"Authorization": token,
		routingHeader:   routingID,
	})
	if err != nil {
		return apperr.NetworkServiceCallFailed().Wrap(err)
	}
	if status < 200 || status > 299 {
		log.Ctx(ctx).Error().Str("path", path).Int("status", status).Bytes("body", truncate(resp)).Msg("gateway rejected call")
		if status >= 500 {
			return apperr.UnknownError()
		}
		return apperr.InvalidResponseFromGateway()
	}
	return nil
}

func truncate(b []byte) []byte {
	if len(b) > 256 {
		return b[:256]
	}
	return b
}
