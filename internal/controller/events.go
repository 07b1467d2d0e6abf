package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

const (
	eventsPath = "/api/ws/system"

	// DefaultEventSettle is how long the watcher waits after a device event
	// before asking for a refresh, so bursts collapse into one poll.
	DefaultEventSettle = 800 * time.Millisecond

	defaultReconnectInitial = 2 * time.Second
	defaultReconnectMax     = 30 * time.Second
)

// EventWatcher listens to the controller's system event feed and calls
// onChange when a device-related event arrives. It never reads state from
// the feed; state always comes from a poll.
type EventWatcher struct {
	client   *Client
	onChange func()
	settle   time.Duration

	reconnectInitial time.Duration
	reconnectMax     time.Duration

	pending   atomic.Bool
	connected atomic.Bool
	events    atomic.Uint64

	mu     sync.Mutex
	timers []*time.Timer

	logger Logger
}

// NewEventWatcher creates a watcher bound to the client's session.
func NewEventWatcher(client *Client, onChange func()) *EventWatcher {
	return &EventWatcher{
		client:           client,
		onChange:         onChange,
		settle:           DefaultEventSettle,
		reconnectInitial: defaultReconnectInitial,
		reconnectMax:     defaultReconnectMax,
		logger:           client.logger,
	}
}

// SetLogger sets the logger for the watcher.
func (w *EventWatcher) SetLogger(logger Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// SetSettle overrides the settle delay.
func (w *EventWatcher) SetSettle(d time.Duration) {
	if d >= 0 {
		w.settle = d
	}
}

// Connected reports whether the feed is currently connected.
func (w *EventWatcher) Connected() bool {
	return w.connected.Load()
}

// EventsSeen returns the number of device events that requested a refresh.
func (w *EventWatcher) EventsSeen() uint64 {
	return w.events.Load()
}

// Run connects to the feed and keeps it connected, backing off between
// attempts, until ctx is cancelled. Authentication failures end the loop.
func (w *EventWatcher) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.reconnectInitial
	b.MaxInterval = w.reconnectMax
	b.Multiplier = 2

	defer w.stopTimers()

	for {
		connectedAt := time.Now()
		err := w.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrAuthentication) {
			return err
		}
		if time.Since(connectedAt) > w.reconnectMax {
			b.Reset()
		}

		wait := b.NextBackOff()
		w.logger.Warn("controller event feed disconnected", "error", err, "retry_in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection until it fails or ctx ends.
func (w *EventWatcher) session(ctx context.Context) error {
	conn, err := w.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	w.connected.Store(true)
	defer w.connected.Store(false)
	w.logger.Info("connected to controller event feed")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading event feed: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if isDeviceEvent(data) {
			w.events.Add(1)
			w.schedule()
		}
	}
}

// dial opens the feed with the session cookie, re-authenticating once if the
// handshake is refused.
func (w *EventWatcher) dial(ctx context.Context) (*websocket.Conn, error) {
	c := w.client
	gen := c.sessionGeneration()
	if gen == 0 {
		if err := c.ensureSession(ctx, 0); err != nil {
			return nil, err
		}
		gen = c.sessionGeneration()
	}

	conn, resp, err := w.dialOnce(ctx)
	if err == nil {
		return conn, nil
	}
	if resp == nil || (resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden) {
		return nil, fmt.Errorf("%w: dialing event feed: %v", ErrUnreachable, err) //nolint:errorlint // transport detail only
	}

	if err := c.ensureSession(ctx, gen); err != nil {
		return nil, err
	}
	conn, _, err = w.dialOnce(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing event feed after re-authentication: %v", ErrUnreachable, err) //nolint:errorlint // transport detail only
	}
	return conn, nil
}

func (w *EventWatcher) dialOnce(ctx context.Context) (*websocket.Conn, *http.Response, error) {
	c := w.client
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.RequestTimeout,
		TLSClientConfig:  c.tls,
		Jar:              c.jar,
	}

	u := *c.baseURL
	if u.Scheme == "http" {
		u.Scheme = "ws"
	} else {
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + eventsPath

	header := http.Header{}
	header.Set("Origin", c.baseURL.String())
	if token := c.csrf(); token != "" {
		header.Set(csrfHeader, token)
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// schedule fires onChange once after the settle delay, collapsing any
// further events that arrive in the meantime.
func (w *EventWatcher) schedule() {
	if !w.pending.CompareAndSwap(false, true) {
		return
	}
	t := time.AfterFunc(w.settle, func() {
		w.pending.Store(false)
		w.onChange()
	})
	w.mu.Lock()
	w.timers = append(w.timers[:0], t)
	w.mu.Unlock()
}

func (w *EventWatcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = nil
}

// isDeviceEvent reports whether a feed message describes a device change.
func isDeviceEvent(data []byte) bool {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		return false
	}
	t := strings.ToUpper(msg.Type)
	return strings.Contains(t, "DEVICE") || strings.Contains(t, "CHANGED") || strings.Contains(t, "APPLIED")
}
