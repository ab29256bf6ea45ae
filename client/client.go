// Package client wraps the dashboard backend's REST API: chat sessions and
// message persistence, the tool catalog, credits, schedules, and execution
// history. Endpoints answer either a uniform {success, data|error} envelope
// or a documented top-level shape ({sessions}, {session}, {message}).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/toolbridge/toolbridge/auth"
)

// ErrPersistFailed wraps failures to save an already-streamed assistant
// message, so callers can distinguish them from streaming failures and avoid
// silently losing streamed content.
var ErrPersistFailed = errors.New("failed to persist assistant message")

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Client talks to the dashboard backend. Identity is injected explicitly and
// sent as the X-User-ID header on every request.
type Client struct {
	baseURL  string
	http     *http.Client
	identity auth.Provider
	logger   *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithIdentity sets the identity provider consulted per request.
func WithIdentity(p auth.Provider) Option {
	return func(c *Client) { c.identity = p }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		identity: auth.Anonymous,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Identity returns the client's identity provider, for reuse by the stream
// controller.
func (c *Client) Identity() auth.Provider {
	return c.identity
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID, err := c.identity.UserID(ctx); err == nil && userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	requestID := shortuuid.New()
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("request failed", "method", method, "path", path, "requestId", requestID, "err", err)
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "decode %s %s response", method, path)
	}
	return nil
}

// errorMessage pulls the backend's error description out of a failure body,
// which may use either the "error" or "message" key.
func errorMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return "request failed"
}

// envelope is the uniform {success, data|error} response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// unwrap decodes an envelope response into out.
func (c *Client) unwrap(ctx context.Context, method, path string, params url.Values, body, out any) error {
	var env envelope
	if err := c.do(ctx, method, path, params, body, &env); err != nil {
		return err
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "request failed"
		}
		return errors.New(msg)
	}
	if out == nil || env.Data == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(env.Data, out), "decode envelope data")
}
