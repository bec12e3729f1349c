// Package backend is the REST client for the chat collaborator service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// Client talks to the backend on behalf of any number of accounts. Each
// account authenticates with its own bearer token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu     sync.RWMutex
	tokens map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithTokens seeds bearer tokens keyed by account id.
func WithTokens(tokens map[string]string) Option {
	return func(c *Client) {
		for account, token := range tokens {
			c.tokens[account] = token
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zap.NewNop(),
		tokens:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken installs or replaces the token of account.
func (c *Client) SetToken(account, token string) {
	c.mu.Lock()
	c.tokens[account] = token
	c.mu.Unlock()
}

func (c *Client) token(account string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens[account]
}

func accountPath(account string, parts ...string) string {
	var b strings.Builder
	b.WriteString("/")
	b.WriteString(url.PathEscape(account))
	for _, p := range parts {
		b.WriteString("/")
		b.WriteString(p)
	}
	return b.String()
}

func (c *Client) doRequest(ctx context.Context, account, method, path string, body any, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(account); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed",
			zap.String("account", account),
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, &RequestError{Method: method, Path: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Method: method, Path: path, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug("backend request",
		zap.String("account", account),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: snippet(data)}
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("unmarshal response: %w", err)
	}
	return result, nil
}

func snippet(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
