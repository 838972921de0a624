package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reparto-app/reparto-go/internal/session"
)

// Default tunables, overridable through Options.
const (
	defaultMaxRetries          = 3
	defaultRetryBaseDelay      = 1 * time.Second
	defaultConnectTimeout      = 10 * time.Second
	defaultReceiveTimeout      = 30 * time.Second
	defaultUploadTimeoutFactor = 3
	defaultRefreshMargin       = 5 * time.Minute
	defaultUserAgent           = "reparto-go/0.1"
)

// apiKeyHeader is the static API key header sent with every request.
const apiKeyHeader = "X-Api-Key"

// NoRetries disables transport retries. Options.MaxRetries zero selects the
// default, so "zero retries" needs an explicit sentinel.
const NoRetries = -1

// Options configures a Client. Zero fields fall back to the defaults above.
// This keeps api/ decoupled from config/ — the command layer maps the
// resolved configuration onto Options.
type Options struct {
	BaseURL             string
	APIKey              string
	UserAgent           string
	ConnectTimeout      time.Duration
	ReceiveTimeout      time.Duration
	MaxRetries          int // NoRetries disables retries; zero selects the default
	RetryBaseDelay      time.Duration
	TokenLifetime       time.Duration
	RefreshMargin       time.Duration
	UploadTimeoutFactor int
}

// Client is the authenticated HTTP client for the Reparto API. It owns the
// single Session for the process: every domain service goes through it, and
// only its refresh coordinator and explicit login/logout paths mutate the
// session.
type Client struct {
	baseURL   string
	apiKey    string
	userAgent string

	httpClient   *http.Client // standard receive timeout
	uploadClient *http.Client // receive timeout x upload factor

	state  *session.State
	store  session.Store
	logger *slog.Logger

	maxRetries     int
	retryBaseDelay time.Duration
	tokenLifetime  time.Duration
	refreshMargin  time.Duration

	// refresh is the single in-flight renewal handle, guarded by refreshMu.
	// See refresh.go.
	refreshMu sync.Mutex
	refresh   *inflightRefresh

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates a Client. state must be seeded from the store by the caller
// (load once at startup); store may be nil only in tests that never persist.
func New(opts Options, state *session.State, store session.Store, logger *slog.Logger) *Client {
	if state == nil {
		panic("api: nil session state")
	}

	if logger == nil {
		logger = slog.Default()
	}

	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}

	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = defaultReceiveTimeout
	}

	switch {
	case opts.MaxRetries < 0:
		opts.MaxRetries = 0
	case opts.MaxRetries == 0:
		opts.MaxRetries = defaultMaxRetries
	}

	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaultRetryBaseDelay
	}

	if opts.TokenLifetime <= 0 {
		opts.TokenLifetime = session.DefaultLifetime
	}

	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = defaultRefreshMargin
	}

	if opts.UploadTimeoutFactor <= 0 {
		opts.UploadTimeoutFactor = defaultUploadTimeoutFactor
	}

	return &Client{
		baseURL:        opts.BaseURL,
		apiKey:         opts.APIKey,
		userAgent:      opts.UserAgent,
		httpClient:     newHTTPClient(opts.ConnectTimeout, opts.ReceiveTimeout),
		uploadClient:   newHTTPClient(opts.ConnectTimeout, opts.ReceiveTimeout*time.Duration(opts.UploadTimeoutFactor)),
		state:          state,
		store:          store,
		logger:         logger,
		maxRetries:     opts.MaxRetries,
		retryBaseDelay: opts.RetryBaseDelay,
		tokenLifetime:  opts.TokenLifetime,
		refreshMargin:  opts.RefreshMargin,
		sleepFunc:      timeSleep,
	}
}

// Session exposes the client's session state for read-only queries
// (status display, authenticated? checks).
func (c *Client) Session() *session.State {
	return c.state
}

// RefreshMargin returns the resolved preemptive-renewal margin, so status
// display uses the same threshold the executor does.
func (c *Client) RefreshMargin() time.Duration {
	return c.refreshMargin
}

// newHTTPClient builds an http.Client with a bounded connect timeout and an
// overall deadline covering headers and body.
func newHTTPClient(connectTimeout, totalTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}

	return &http.Client{
		Timeout: totalTimeout,
		Transport: &http.Transport{
			DialContext:       dialer.DialContext,
			ForceAttemptHTTP2: true,
		},
	}
}

// Do executes an authenticated request against the API with the full
// resilience contract: preemptive renewal, one reactive 401 renewal-and-retry,
// and exponential backoff on timeouts and connectivity failures. The path is
// appended to the client's base URL. Request bodies must be replayable
// (io.Seeker) so retries resend the full payload. The caller closes the
// response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	url := c.baseURL + path

	return c.execute(ctx, method, path, func(ctx context.Context) (*http.Response, error) {
		if err := rewindBody(body); err != nil {
			return nil, err
		}

		req, err := c.newRequest(ctx, method, url, body)
		if err != nil {
			return nil, err
		}

		return c.httpClient.Do(req)
	})
}

// execute runs one request attempt chain. dispatch is invoked once per
// attempt and must build a fresh request each time (so a renewed access token
// is picked up by the retry).
func (c *Client) execute(
	ctx context.Context, method, path string, dispatch func(context.Context) (*http.Response, error),
) (*http.Response, error) {
	requestID := uuid.NewString()

	// Preemptive renewal: a token about to die is renewed before dispatch so
	// the request does not have to pay the 401-retry latency penalty.
	if c.state.IsAuthenticated() && c.state.ExpiringWithin(c.refreshMargin) {
		c.logger.Debug("token expiring soon, renewing before dispatch",
			slog.String("request_id", requestID),
			slog.String("path", path),
		)
		c.ensureFresh(ctx)
	}

	var (
		retryCount   int
		reactiveUsed bool
	)

	for {
		resp, err := dispatch(ctx)
		if err != nil {
			// Errors the chain has already classified (or the dispatch itself
			// produced as a domain error) propagate unchanged.
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return nil, err
			}

			if ctx.Err() != nil {
				return nil, fmt.Errorf("api: request canceled: %w", ctx.Err())
			}

			kind := classifyTransport(err)
			if retryCount < c.maxRetries {
				backoff := c.backoff(retryCount)
				c.logger.Warn("retrying after transport error",
					slog.String("request_id", requestID),
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("retry", retryCount+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("api: request canceled: %w", sleepErr)
				}

				retryCount++

				continue
			}

			return nil, &APIError{
				Message: fmt.Sprintf("%s %s failed after %d attempts: %v", method, path, retryCount+1, err),
				Err:     kind,
			}
		}

		if resp.StatusCode == http.StatusUnauthorized {
			body := drainBody(resp)

			if !reactiveUsed && c.ensureFresh(ctx) {
				// One reactive retry per attempt chain: if the renewed token
				// still yields 401 the server is rejecting the identity, not
				// an expired token, and further retries would loop.
				reactiveUsed = true

				c.logger.Debug("renewed after 401, retrying once",
					slog.String("request_id", requestID),
					slog.String("path", path),
				)

				continue
			}

			return nil, decodeError(http.StatusUnauthorized, body)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("request_id", requestID),
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		body := drainBody(resp)

		return nil, decodeError(resp.StatusCode, body)
	}
}

// newRequest builds a request with the standard header set: Accept, API key,
// User-Agent, JSON content type for bodies, and the bearer token when a
// session is present.
func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("api: creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(apiKeyHeader, c.apiKey)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if cur := c.state.Current(); !cur.IsAnonymous() {
		req.Header.Set("Authorization", "Bearer "+cur.AccessToken)
	}

	return req, nil
}

// backoff returns the delay before retry number retryCount (0-based):
// base * 2^retryCount.
func (c *Client) backoff(retryCount int) time.Duration {
	return c.retryBaseDelay << uint(retryCount)
}

// rewindBody resets a request body to the beginning before (re)dispatch.
// Nil and non-seekable bodies pass through; non-seekable bodies are only safe
// for single-dispatch calls.
func rewindBody(body io.Reader) error {
	seeker, ok := body.(io.Seeker)
	if !ok {
		return nil
	}

	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("api: rewinding request body for retry: %w", err)
	}

	return nil
}

// drainBody reads and closes an error response body, best effort.
func drainBody(resp *http.Response) []byte {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()

	if err != nil {
		return []byte("(failed to read response body)")
	}

	return body
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GetJSON issues a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON issues a POST with a JSON body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, in, out)
}

// PutJSON issues a PUT with a JSON body and decodes the response into out.
func (c *Client) PutJSON(ctx context.Context, path string, in, out any) error {
	return c.doJSON(ctx, http.MethodPut, path, in, out)
}

// PatchJSON issues a PATCH with a JSON body and decodes the response into out.
func (c *Client) PatchJSON(ctx context.Context, path string, in, out any) error {
	return c.doJSON(ctx, http.MethodPatch, path, in, out)
}

// DeleteJSON issues a DELETE and decodes any JSON response into out.
func (c *Client) DeleteJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, out)
}

// doJSON is the JSON boundary the domain services build on. A nil out or an
// empty 2xx body is treated as canonical success.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encoding request body: %w", err)
		}

		body = bytes.NewReader(data)
	}

	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain to reuse connection
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api: reading response body: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("api: decoding response body: %w", err)
	}

	return nil
}
