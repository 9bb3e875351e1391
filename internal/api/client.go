package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// TokenSource returns the current access token, or "" when unauthenticated.
type TokenSource func() string

// Client is the single choke point for outbound HopOn REST calls. It attaches
// the bearer token, serializes bodies as JSON and normalizes error responses.
// It never retries and never inspects 401s; that is the session coordinator's job.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     *zerolog.Logger
}

// New creates a client targeting the given base URL (e.g. "http://localhost:8000").
func New(baseURL string, timeout time.Duration, logger *zerolog.Logger) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     logger,
	}
}

// SetTokenSource installs the access-token provider. The session coordinator
// installs itself here during construction.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

type callOptions struct {
	public bool
}

// CallOption adjusts how a single request is issued.
type CallOption func(*callOptions)

// Public marks a call as not requiring authentication; no bearer header is sent.
func Public() CallOption {
	return func(o *callOptions) { o.public = true }
}

// Do issues one request. body is JSON-encoded when non-nil; a 2xx response is
// decoded into out when out is non-nil; a non-2xx response is returned as *Error.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, opts ...CallOption) error {
	var options callOptions
	for _, opt := range opts {
		opt(&options)
	}

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if !options.public && c.tokens != nil {
		if token := c.tokens(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
		var errBody struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr == nil && errBody.Error != "" {
			apiErr.Message = errBody.Error
		}
		c.log.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("error", apiErr.Message).
			Msg("api error response")
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
