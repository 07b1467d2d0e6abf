package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// loginAttempt is one candidate login endpoint. Console firmwares differ in
// path and in the capitalisation of the credential fields.
type loginAttempt struct {
	path      string
	upperCase bool
}

var loginAttempts = []loginAttempt{
	{path: "/api/auth/login"},
	{path: "/api/auth"},
	{path: "/api/auth", upperCase: true},
	{path: "/auth", upperCase: true},
}

// login tries each login endpoint in order and installs the new session on
// the first success.
func (c *Client) login(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "controller.login")
	defer span.End()

	var refused bool
	var lastErr error

	for _, attempt := range loginAttempts {
		body := map[string]any{"username": c.cfg.Username, "password": c.cfg.Password}
		if attempt.upperCase {
			body = map[string]any{"Username": c.cfg.Username, "Password": c.cfg.Password}
		}

		resp, err := c.send(ctx, http.MethodPost, attempt.path, body, false)
		if err != nil {
			// The host itself is unreachable; other paths will not help.
			span.RecordError(err)
			return err
		}

		switch {
		case isSuccess(resp.status):
			c.installSession(resp)
			c.logger.Info("authenticated with controller", "endpoint", attempt.path, "site", c.cfg.Site)
			return nil

		case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
			refused = true
			c.logger.Debug("login endpoint refused credentials", "endpoint", attempt.path, "status", resp.status)

		case resp.status == http.StatusTooManyRequests:
			// Stop here: more attempts would extend the lockout.
			return fmt.Errorf("%w: controller is rate limiting logins", ErrAuthentication)

		case resp.status == http.StatusNotFound || resp.status == http.StatusMethodNotAllowed:
			c.logger.Debug("login endpoint not served", "endpoint", attempt.path, "status", resp.status)

		default:
			lastErr = statusError(http.MethodPost, attempt.path, resp)
			c.logger.Debug("login endpoint failed", "endpoint", attempt.path, "error", lastErr)
		}
	}

	if refused {
		return fmt.Errorf("%w: credentials refused for user %q", ErrAuthentication, c.cfg.Username)
	}
	if lastErr != nil && errors.Is(lastErr, ErrUnreachable) {
		return lastErr
	}
	return fmt.Errorf("%w: no login endpoint accepted the request", ErrAuthentication)
}

// installSession records the CSRF token from a successful login response and
// starts a new session generation. The session cookie is kept by the jar.
func (c *Client) installSession(resp *response) {
	token := resp.header.Get(csrfHeader)
	if token == "" {
		var body struct {
			CSRFToken string `json:"csrfToken"`
		}
		if err := json.Unmarshal(resp.body, &body); err == nil {
			token = body.CSRFToken
		}
	}

	c.sessionMu.Lock()
	c.csrfToken = token
	c.generation++
	c.sessionMu.Unlock()

	c.logins.Add(1)
}
