package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPConfig holds the central-service connection settings.
type HTTPConfig struct {
	BaseURL string        // e.g. "https://licensing.example.gov"
	APIKey  string        // bearer token, optional
	Timeout time.Duration // per-request timeout (default 30s)
}

// HTTPClient is the production Client over the central REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a client for the central service.
func NewHTTPClient(config HTTPConfig) *HTTPClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type createResponse struct {
	ID string `json:"id"`
}

// Create submits a new record; the response carries the server-assigned id.
func (c *HTTPClient) Create(ctx context.Context, payload json.RawMessage) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/records", payload)
	if err != nil {
		return "", err
	}

	var resp createResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode create response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create response missing record id")
	}
	return resp.ID, nil
}

// Update overwrites a record by server id.
func (c *HTTPClient) Update(ctx context.Context, id string, payload json.RawMessage) error {
	_, err := c.do(ctx, http.MethodPut, "/api/v1/records/"+id, payload)
	return err
}

// Delete removes a record by server id. 404 is success: the record is gone
// either way, and delete retries must stay idempotent.
func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/records/"+id, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// Ping probes the service health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload json.RawMessage) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}

var _ Client = (*HTTPClient)(nil)
