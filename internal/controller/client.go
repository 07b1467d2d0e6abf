package controller

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultSite is used when no site is configured.
	DefaultSite = "default"

	// DefaultRequestTimeout bounds every controller call.
	DefaultRequestTimeout = 10 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 8 << 20

	csrfHeader        = "X-Csrf-Token"
	updatedCSRFHeader = "X-Updated-Csrf-Token"
)

// Logger defines the logging interface used by the client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the controller connection settings.
type Config struct {
	// Host is the controller address, optionally with port. Without a scheme,
	// https is assumed so the default management port applies.
	Host     string
	Username string
	Password string
	Site     string

	// VerifyTLS enables certificate verification. Consoles ship with
	// self-signed certificates, so it is off unless configured.
	VerifyTLS bool

	// RequestTimeout bounds each HTTP call. Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// Client owns one authenticated session to the controller.
//
// The session consists of the cookie jar and the CSRF token. Both are only
// replaced by the login path, which is single-flight: concurrent callers
// that see the same expired session share one re-authentication.
//
// All methods are safe for concurrent use.
type Client struct {
	cfg     Config
	baseURL *url.URL
	http    *http.Client
	jar     http.CookieJar
	tls     *tls.Config

	sessionMu  sync.RWMutex
	csrfToken  string
	generation uint64 // bumped on every successful login; 0 = never logged in

	reauth singleflight.Group
	logins atomic.Uint64

	logger Logger
	tracer trace.Tracer
}

// New creates a controller client. It does not contact the controller;
// call Authenticate to establish the session.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("controller host is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("controller username and password are required")
	}
	if cfg.Site == "" {
		cfg.Site = DefaultSite
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	base, err := BaseURL(cfg.Host)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	tlsCfg := &tls.Config{
		InsecureSkipVerify: !cfg.VerifyTLS, //nolint:gosec // consoles use self-signed certificates unless verify_tls is set
		MinVersion:         tls.VersionTLS12,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg

	return &Client{
		cfg:     cfg,
		baseURL: base,
		http:    &http.Client{Transport: transport, Jar: jar},
		jar:     jar,
		tls:     tlsCfg,
		logger:  noopLogger{},
		tracer:  otel.Tracer("connectd/controller"),
	}, nil
}

// BaseURL normalises a configured host into the controller base URL.
func BaseURL(host string) (*url.URL, error) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid controller host %q: %w", host, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid controller host %q", host)
	}
	return u, nil
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Site returns the configured site name.
func (c *Client) Site() string {
	return c.cfg.Site
}

// Stats reports session counters.
type Stats struct {
	Logins        uint64 `json:"logins"`
	Authenticated bool   `json:"authenticated"`
}

// Stats returns the number of successful logins and whether a session is
// currently held.
func (c *Client) Stats() Stats {
	return Stats{
		Logins:        c.logins.Load(),
		Authenticated: c.sessionGeneration() > 0,
	}
}

// Authenticate establishes a fresh session with the controller.
// Returns ErrAuthentication if credentials are refused and ErrUnreachable
// if the controller cannot be reached.
func (c *Client) Authenticate(ctx context.Context) error {
	return c.ensureSession(ctx, c.sessionGeneration())
}

func (c *Client) sessionGeneration() uint64 {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.generation
}

func (c *Client) csrf() string {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.csrfToken
}

// ensureSession logs in unless the session has moved on since staleGen was
// observed. Concurrent callers share a single login attempt.
func (c *Client) ensureSession(ctx context.Context, staleGen uint64) error {
	if c.sessionGeneration() != staleGen {
		return nil
	}

	ch := c.reauth.DoChan("login", func() (any, error) {
		if c.sessionGeneration() != staleGen {
			return nil, nil
		}
		// Detached so one caller's cancellation does not fail the others
		// waiting on the same login.
		return nil, c.login(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for login: %v", ErrUnreachable, ctx.Err()) //nolint:errorlint // ctx error is informational
	}
}

// response is a fully read HTTP response.
type response struct {
	status int
	header http.Header
	body   []byte
}

// do performs a session-authenticated request. If the controller reports an
// expired session it re-authenticates once and repeats the request.
func (c *Client) do(ctx context.Context, method, path string, body any) (*response, error) {
	gen := c.sessionGeneration()
	if gen == 0 {
		if err := c.ensureSession(ctx, 0); err != nil {
			return nil, err
		}
		gen = c.sessionGeneration()
	}

	resp, err := c.send(ctx, method, path, body, true)
	if err != nil {
		return nil, err
	}
	if !sessionExpired(resp) {
		return resp, nil
	}

	c.logger.Info("controller session expired, re-authenticating", "method", method, "path", path)
	if err := c.ensureSession(ctx, gen); err != nil {
		return nil, err
	}

	resp, err = c.send(ctx, method, path, body, true)
	if err != nil {
		return nil, err
	}
	if sessionExpired(resp) {
		return nil, fmt.Errorf("%w: %s %s unauthorised after re-authentication", ErrSessionExpired, method, path)
	}
	return resp, nil
}

// send performs a single HTTP exchange under the request timeout.
func (c *Client) send(ctx context.Context, method, path string, body any, withSession bool) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "controller.http",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		))
	defer span.End()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withSession {
		if token := c.csrf(); token != "" {
			req.Header.Set(csrfHeader, token)
		}
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnreachable, method, path, err) //nolint:errorlint // transport errors are flattened into ErrUnreachable
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: reading %s %s: %v", ErrUnreachable, method, path, err) //nolint:errorlint // see above
	}
	span.SetAttributes(attribute.Int("http.response.status_code", httpResp.StatusCode))

	if token := httpResp.Header.Get(updatedCSRFHeader); token != "" && withSession {
		c.sessionMu.Lock()
		c.csrfToken = token
		c.sessionMu.Unlock()
	}

	return &response{status: httpResp.StatusCode, header: httpResp.Header, body: data}, nil
}

func (c *Client) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.baseURL.String() + path
	}
	return c.baseURL.ResolveReference(ref).String()
}

// sessionExpired reports whether a response means the session is no longer
// valid: 401, or 403 complaining about the CSRF token.
func sessionExpired(resp *response) bool {
	switch resp.status {
	case http.StatusUnauthorized:
		return true
	case http.StatusForbidden:
		return bytes.Contains(bytes.ToLower(resp.body), []byte("csrf"))
	default:
		return false
	}
}

// statusError classifies a non-2xx response that is not a session expiry.
func statusError(method, path string, resp *response) error {
	msg := summarizeBody(resp.body)
	switch {
	case resp.status == http.StatusNotFound || resp.status == http.StatusMethodNotAllowed:
		return fmt.Errorf("%w: %s %s returned %d", errEndpointMissing, method, path, resp.status)
	case resp.status >= 500:
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrUnreachable, method, path, resp.status, msg)
	default:
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrUnexpectedResponse, method, path, resp.status, msg)
	}
}

// summarizeBody extracts a human readable message from an error body.
func summarizeBody(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Err     struct {
			Message string `json:"message"`
		} `json:"err"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		for _, m := range []string{envelope.Message, envelope.Error, envelope.Err.Message} {
			if m != "" {
				return m
			}
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// isSuccess reports whether status is 2xx.
func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// IsRetryable reports whether err is transient. Authentication failures are
// never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrSessionExpired)
}
