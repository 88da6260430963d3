package api

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

	"github.com/methminihima/medivault/internal/model"
	"github.com/methminihima/medivault/internal/wire"
)

const maxResponseBytes = 4 << 20

// TokenSource supplies the bearer token for authenticated calls. An error
// aborts the call before any request is sent.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

func (f TokenSourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Credentials are the login form values.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Client talks to the platform REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithTokenSource(ts TokenSource) Option {
	return func(cl *Client) {
		cl.tokens = ts
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	hc := *c.httpClient
	hc.Transport = newLoggingTransport(hc.Transport, c.logger)
	c.httpClient = &hc
	return c
}

// Login exchanges credentials for a token and user profile. It never
// consults the token source.
func (c *Client) Login(ctx context.Context, creds Credentials) (*wire.LoginPayload, error) {
	data, err := c.do(ctx, "login", http.MethodPost, "/auth/login", creds, false)
	if err != nil {
		return nil, err
	}
	p, err := wire.DecodeLogin(data)
	if err != nil {
		return nil, fmt.Errorf("login: %w: %w", ErrInvalidResponse, err)
	}
	return p, nil
}

// ListNotifications fetches the full notification list for the session user.
func (c *Client) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	data, err := c.do(ctx, "list notifications", http.MethodGet, "/notifications", nil, true)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return []model.Notification{}, nil
	}
	items, skipped, err := wire.DecodeNotificationList(data)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w: %w", ErrInvalidResponse, err)
	}
	if skipped > 0 {
		c.logger.Warn("skipped malformed notifications", "count", skipped)
	}
	return items, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := c.do(ctx, "mark notification read", http.MethodPatch, "/notifications/"+url.PathEscape(id)+"/read", nil, true)
	return err
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	_, err := c.do(ctx, "mark all notifications read", http.MethodPatch, "/notifications/read-all", nil, true)
	return err
}

func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete notification", http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, true)
	return err
}

// ListUsers is consumed read-only by admin dashboards.
func (c *Client) ListUsers(ctx context.Context) ([]model.User, error) {
	data, err := c.do(ctx, "list users", http.MethodGet, "/users", nil, true)
	if err != nil {
		return nil, err
	}
	users, err := wire.DecodeUserList(data)
	if err != nil {
		return nil, fmt.Errorf("list users: %w: %w", ErrInvalidResponse, err)
	}
	return users, nil
}

// SystemStatus returns the raw system status report for dashboards.
func (c *Client) SystemStatus(ctx context.Context) (map[string]any, error) {
	data, err := c.do(ctx, "system status", http.MethodGet, "/reports/system-status", nil, true)
	if err != nil {
		return nil, err
	}
	var status map[string]any
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("system status: %w: %v", ErrInvalidResponse, err)
	}
	return status, nil
}

// do sends one request and unwraps the {success, data, message} envelope.
// When the envelope carries no data the whole body is returned, so payloads
// sent at the top level still decode.
func (c *Client) do(ctx context.Context, op, method, path string, body any, authed bool) (json.RawMessage, error) {
	var token string
	if authed {
		if c.tokens == nil {
			return nil, fmt.Errorf("%s: no token source configured", op)
		}
		t, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		token = t
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	var env wire.Envelope
	decodeErr := json.Unmarshal(raw, &env)
	if len(bytes.TrimSpace(raw)) == 0 {
		decodeErr = nil
		env.Success = true
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidResponse, decodeErr)
	}
	if !env.Success {
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Message: env.Message}
	}

	switch {
	case len(env.Data) == 0 && len(raw) == 0:
		return nil, nil
	case len(env.Data) == 0:
		return raw, nil
	case string(env.Data) == "null":
		return nil, nil
	}
	return env.Data, nil
}
