// Package httpsource holds the JSON-over-HTTP plumbing shared by remote sources.
package httpsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds one HTTP round trip.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is kept in APIError.Message.
const maxErrorBody = 512

// APIError describes a non-2xx response or transport failure from a remote source.
type APIError struct {
	Source     string
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Source, e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Source, e.Endpoint, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Client performs authenticated JSON GET requests for one source.
type Client struct {
	source  string
	http    *http.Client
	headers http.Header
}

// New creates a client. A nil httpClient gets DefaultTimeout.
func New(source string, httpClient *http.Client, headers http.Header) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if headers == nil {
		headers = http.Header{}
	}
	return &Client{source: source, http: httpClient, headers: headers.Clone()}
}

// GetJSON fetches url and decodes the body into dst. It returns the response headers for pagination.
func (c *Client) GetJSON(ctx context.Context, url string, dst any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &APIError{Source: c.source, Endpoint: url, Message: "build request", Err: err}
	}
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Source: c.source, Endpoint: url, Message: "request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return nil, &APIError{Source: c.source, Endpoint: url, StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return nil, &APIError{Source: c.source, Endpoint: url, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	return resp.Header, nil
}
