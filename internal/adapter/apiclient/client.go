// Package apiclient implements the step call port over HTTP: each binding
// becomes a JSON POST to an allow-listed route under a base URL.
package apiclient

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/labdesk/taskplanner/internal/domain/plan"
	"github.com/labdesk/taskplanner/internal/resilience"
)

// ErrEndpointNotAllowed is returned for endpoints outside the allow-list.
var ErrEndpointNotAllowed = errors.New("endpoint not allowed")

// ErrResponseTooLarge is returned when a successful response exceeds the
// size a step result may have.
var ErrResponseTooLarge = errors.New("response too large")

const maxResponseBytes = 16 << 20

// StatusError reports a non-2xx response.
type StatusError struct {
	Endpoint string
	Code     int
	Status   string
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %s", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s: %s: %s", e.Endpoint, e.Status, e.Body)
}

// Client posts step bodies to the API routes.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a client for baseURL. A non-empty token is sent as a
// bearer token. Outgoing requests are traced through otelhttp.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Invoke POSTs body as JSON to endpoint and returns the response. Bodies that
// are not JSON are returned as a JSON string; an empty body yields null.
func (c *Client) Invoke(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	if !plan.IsAllowedEndpoint(endpoint) {
		return nil, fmt.Errorf("%w: %s", ErrEndpointNotAllowed, endpoint)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", endpoint, err)
	}

	var result json.RawMessage
	call := func(ctx context.Context) error {
		data, err := c.post(ctx, endpoint, payload)
		if err != nil {
			return err
		}
		result = normalize(data)
		return nil
	}

	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", endpoint, err)
	}
	oversized := len(data) > maxResponseBytes

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Endpoint: endpoint,
			Code:     resp.StatusCode,
			Status:   resp.Status,
			Body:     strings.TrimSpace(string(truncate(data, 512))),
		}
	}
	if oversized {
		return nil, fmt.Errorf("%s: %w (limit %d bytes)", endpoint, ErrResponseTooLarge, maxResponseBytes)
	}
	return data, nil
}

func normalize(data []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(trimmed))
	return quoted
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
