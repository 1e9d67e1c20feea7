// Package paddle implements the billing.Gateway against the Paddle REST
// API, plus webhook signature verification for the push path.
package paddle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrymomot/voxnote/pkg/billing"
)

// apiClient is a thin bearer-token JSON client for the provider API. Every
// call runs uncached under a bounded timeout; a timed-out or failed call
// surfaces to the user rather than being retried here.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newAPIClient(cfg Config) *apiClient {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &apiClient{
		baseURL: strings.TrimRight(cfg.apiBaseURL(), "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// apiError is the provider's error envelope. The detail field is preferred;
// the raw body is the fallback when the envelope does not parse.
type apiError struct {
	Error struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"error"`
}

// do performs a JSON request. A nil out skips decoding; a 204 response is
// "no content" and never decoded. 404 maps to
// billing.ErrRemoteSubscriptionNotFound so reconciliation can distinguish
// "gone" from "broken"; every other non-2xx wraps billing.ErrProviderFailure.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Join(billing.ErrProviderFailure, err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.Join(billing.ErrProviderFailure, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cache-Control", "no-cache")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Join(billing.ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Join(billing.ErrProviderFailure, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return billing.ErrRemoteSubscriptionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s: %s",
			billing.ErrProviderFailure, method, path, extractErrorDetail(raw))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Join(billing.ErrProviderFailure, err)
	}
	return nil
}

// extractErrorDetail digs the nested error message out of a failure body,
// falling back to the raw text when the envelope does not parse.
func extractErrorDetail(raw []byte) string {
	var apiErr apiError
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Detail != "" {
		return apiErr.Error.Detail
	}
	detail := strings.TrimSpace(string(raw))
	if detail == "" {
		return "empty response body"
	}
	return detail
}
