package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RequestJSON sends body to url and returns the status and payload of the
// first final answer. Transport failures, unreadable bodies and 5xx are
// retried up to retries times, retryDelay apart; anything else is final.
func RequestJSON(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string, retries int, retryDelay time.Duration) (int, []byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	var (
		status  int
		payload []byte
		err     error
	)
	for attempt := 0; attempt <= max(retries, 0); attempt++ {
		if attempt > 0 {
			if werr := wait(ctx, retryDelay); werr != nil {
				return 0, nil, werr
			}
		}
		status, payload, err = roundTrip(ctx, client, method, url, body, headers)
		var buildErr *requestError
		if errors.As(err, &buildErr) {
			return 0, nil, buildErr.err
		}
		if err == nil && status < http.StatusInternalServerError {
			break
		}
	}
	return status, payload, err
}

type requestError struct{ err error }

func (e *requestError) Error() string { return e.err.Error() }

func roundTrip(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, &requestError{err: err}
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := CorrelationID(ctx); id != "" {
		req.Header.Set(CorrelationIDHeader, id)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, payload, nil
}

// PostJSON marshals payload and posts it without retries; callbacks to the
// Gateway are fire-and-forget.
func PostJSON(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}
	return RequestJSON(ctx, client, http.MethodPost, url, body, headers, 0, 0)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
