// Package api is the authorized request client for the inventory backend.
//
// Every call made through Client.Do reads the credential store at call time,
// attaches the bearer credential when one is present and turns a 401 into
// errors.ErrAuthExpired after telling the session to end.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/felixgeelhaar/bodega/internal/credential"
	"github.com/felixgeelhaar/bodega/internal/errors"
	"github.com/felixgeelhaar/bodega/internal/log"
	"github.com/felixgeelhaar/bodega/internal/metrics"
	"github.com/felixgeelhaar/bodega/internal/version"
)

// DefaultBaseURL is the backend address used when none is configured
const DefaultBaseURL = "http://localhost:5000"

// RequestIDHeader carries a per-request correlation id
const RequestIDHeader = "X-Request-ID"

// Invalidator ends the session that owned a rejected credential.
// session.Manager implements it.
type Invalidator interface {
	Expire(ctx context.Context, used credential.Credential)
}

// Client is the bodega backend API client
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	store       credential.Store
	invalidator Invalidator
	logger      *log.Logger
	metrics     *metrics.Metrics
	userAgent   string
	now         func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its transport is used as-is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics records request outcomes on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates a backend client that reads credentials from store.
// The default transport is instrumented with otelhttp.
func NewClient(baseURL string, store credential.Store, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.NewConfigInvalidError(fmt.Sprintf("api_url %q is not an absolute URL", baseURL))
	}
	u.Path = strings.TrimRight(u.Path, "/")

	c := &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		store:     store,
		logger:    log.Nop(),
		userAgent: version.GetInfo().UserAgent(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Component("api")

	return c, nil
}

// BaseURL returns the configured backend address
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// SetInvalidator registers the component told about rejected credentials.
// Without one, the client clears the store itself on 401.
func (c *Client) SetInvalidator(inv Invalidator) {
	c.invalidator = inv
}

// Do performs an authorized request. The credential is read from the store
// on every call so a login or logout in between is always honoured.
//
// A 401 response is consumed: the session is invalidated and
// errors.ErrAuthExpired is returned. Any other response, 2xx or not, is
// returned to the caller, who owns the body.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	cred, ok, err := c.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		cred = ""
	}

	resp, err := c.send(ctx, method, path, body, cred)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		c.logger.Warn("credential rejected",
			"method", method,
			"path", path,
			"credential", cred.Fingerprint(),
		)
		c.invalidate(ctx, cred)
		return nil, errors.NewAuthExpiredError(path)
	}

	return resp, nil
}

// DoAnonymous performs a request without a credential. A 401 is an
// ordinary response here (wrong password), not a session expiry.
func (c *Client) DoAnonymous(ctx context.Context, method, path string, body any) (*http.Response, error) {
	return c.send(ctx, method, path, body, "")
}

func (c *Client) invalidate(ctx context.Context, used credential.Credential) {
	// the caller's context may be cancelled right after the 401; the
	// logout must still happen
	ctx = context.WithoutCancel(ctx)

	if c.invalidator != nil {
		c.invalidator.Expire(ctx, used)
		return
	}

	current, ok, err := c.store.Get(ctx)
	if err != nil || !ok || current != used {
		return
	}
	if err := c.store.Clear(ctx); err != nil {
		c.logger.WithError(err).Warn("failed to clear rejected credential")
	}
}

// resolve joins path onto the base URL. Absolute URLs are refused so a
// credential is never sent to another host.
func (c *Client) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeValidation, fmt.Sprintf("invalid request path %q", path), err)
	}
	if ref.IsAbs() || ref.Host != "" {
		return nil, errors.New(errors.ErrCodeValidation,
			fmt.Sprintf("request path %q must be relative to the configured api_url", path))
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return &u, nil
}

func (c *Client) send(ctx context.Context, method, path string, body any, cred credential.Credential) (*http.Response, error) {
	u, err := c.resolve(path)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		switch b := body.(type) {
		case []byte:
			reqBody = bytes.NewReader(b)
		case json.RawMessage:
			reqBody = bytes.NewReader(b)
		default:
			jsonBody, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			reqBody = bytes.NewReader(jsonBody)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(RequestIDHeader, requestID)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !cred.IsZero() {
		req.Header.Set("Authorization", "Bearer "+string(cred))
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	elapsed := c.now().Sub(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.metrics.ObserveNetworkError()
		c.logger.Debug("request failed",
			"method", method,
			"path", path,
			"request_id", requestID,
			"error", err,
		)
		return nil, errors.NewNetworkError(method+" "+path, err)
	}

	c.metrics.ObserveRequest(method, resp.StatusCode, elapsed)
	c.logger.Debug("request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"elapsed", elapsed,
		"credential", cred.Fingerprint(),
	)

	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
