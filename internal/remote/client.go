// Package remote translates sync-queue items into calls against the
// backend's per-table CRUD endpoints. It is the only component in the
// engine allowed to perform network I/O.
//
// Every call is safe to retry: INSERT replays as an upsert-by-id (PUT),
// so a retry after an ambiguous failure such as a timeout that the server
// already applied cannot create a duplicate row. Failures are classified
// into retryable, terminal, and auth-expired (see errors.go); the sync
// engine decides what to do with each class.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/shiftbeat/shiftbeat/internal/schema"
)

// TokenSource supplies the bearer token for remote calls. Session refresh
// is an external collaborator's concern; the client only surfaces
// AuthExpiredError when the token is rejected.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token. Useful for tests
// and for tooling driven by an environment variable.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("no token configured")
	}
	return string(t), nil
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the backend root, e.g. "https://api.example.com".
	BaseURL string

	// Timeout bounds each remote call (default: 15s).
	Timeout time.Duration

	// RequestsPerSecond limits outbound call rate (default: 10).
	RequestsPerSecond float64

	// Burst is the rate limiter burst size (default: 5).
	Burst int

	// Logger for client activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for the given backend root.
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:           baseURL,
		Timeout:           15 * time.Second,
		RequestsPerSecond: 10,
		Burst:             5,
		Logger:            log.New(os.Stderr, "[remote] ", log.LstdFlags),
	}
}

// Client calls the backend's CRUD endpoints per mirrored table.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	logger  *log.Logger
}

// NewClient creates a remote client.
//
// The token source must be non-nil; authentication is supplied by an
// external collaborator and attached to every request.
func NewClient(cfg *Config, tokens TokenSource) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source cannot be nil")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps == 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}, nil
}

// Apply replays one queue item against the backend.
//
// INSERT maps to PUT /v1/{table}/{id} (upsert), UPDATE to PATCH, DELETE
// to DELETE plus removal of the record's remote blob when one is
// referenced. A 404 on UPDATE or DELETE is treated as success: the entity
// no longer exists remotely and there is nothing left to apply.
func (c *Client) Apply(ctx context.Context, item *schema.QueueItem) error {
	if err := item.Validate(); err != nil {
		return &TerminalError{Op: string(item.Op), URL: c.baseURL, Body: err.Error()}
	}

	entityURL := fmt.Sprintf("%s/v1/%s/%s", c.baseURL, item.Table, url.PathEscape(item.EntityID))

	switch item.Op {
	case schema.OpInsert:
		return c.do(ctx, http.MethodPut, entityURL, item.Payload, nil)

	case schema.OpUpdate:
		// Updating an entity deleted remotely is a no-op success.
		return c.do(ctx, http.MethodPatch, entityURL, item.Payload, okStatuses(http.StatusNotFound))

	case schema.OpDelete:
		if err := c.do(ctx, http.MethodDelete, entityURL, nil, okStatuses(http.StatusNotFound)); err != nil {
			return err
		}
		if item.RemoteURL != "" {
			c.logger.Printf("Removing blob for %s/%s", item.Table, item.EntityID)
			return c.do(ctx, http.MethodDelete, item.RemoteURL, nil, okStatuses(http.StatusNotFound))
		}
		return nil

	default:
		return &TerminalError{Op: string(item.Op), URL: entityURL, Body: "unknown operation"}
	}
}

// okStatuses builds a set of non-2xx statuses treated as success.
func okStatuses(statuses ...int) map[int]bool {
	ok := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		ok[s] = true
	}
	return ok
}

// do performs one HTTP call and classifies the outcome.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, extraOK map[int]bool) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &RetryableError{Op: method, URL: rawURL, Err: err}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return &AuthExpiredError{}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	// Once a call is on the wire it runs to completion or to the client
	// timeout. Cancelling it mid-flight would leave the remote outcome
	// ambiguous; cancellation is honored between items, in the limiter
	// wait above.
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), method, rawURL, reader)
	if err != nil {
		return &TerminalError{Op: method, URL: rawURL, Body: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connectivity loss are transient.
		return &RetryableError{Op: method, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if extraOK[resp.StatusCode] {
		return nil
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthExpiredError{Status: resp.StatusCode}

	case resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= 500:
		return &RetryableError{Op: method, URL: rawURL, Status: resp.StatusCode}

	default:
		return &TerminalError{Op: method, URL: rawURL, Status: resp.StatusCode, Body: readSnippet(resp.Body)}
	}
}

// readSnippet reads a short error body for diagnostics.
func readSnippet(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 256))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
