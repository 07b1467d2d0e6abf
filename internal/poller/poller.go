package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitchin999/unifi-connect-display/internal/controller"
	"github.com/hitchin999/unifi-connect-display/internal/device"
)

const (
	// DefaultInterval is the time between scheduled polls.
	DefaultInterval = 5 * time.Second

	// DefaultTimeout bounds a single poll.
	DefaultTimeout = 10 * time.Second
)

// Logger defines the logging interface used by the Poller.
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

// Source lists devices from the controller.
type Source interface {
	ListDevices(ctx context.Context) ([]controller.Device, error)
}

// Store receives poll results.
type Store interface {
	Refresh(observations []device.Observation) []device.Event
}

// Result describes one completed poll.
type Result struct {
	Started  time.Time
	Duration time.Duration
	Devices  int
	Events   int
	Err      error
}

// Observer is told about every completed poll (metrics, telemetry).
type Observer interface {
	ObservePoll(ctx context.Context, res Result)
}

// Status is the poller's health summary.
type Status struct {
	Polls       uint64    `json:"polls"`
	Failures    uint64    `json:"failures"`
	Devices     int       `json:"devices"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// Healthy reports whether the most recent poll succeeded.
func (s Status) Healthy() bool {
	return !s.LastSuccess.IsZero() && !s.LastSuccess.Before(s.LastErrorAt)
}

// Options configures a Poller.
type Options struct {
	Source    Source
	Store     Store
	Interval  time.Duration
	Timeout   time.Duration
	Observers []Observer
	Logger    Logger
}

// Poller keeps the device store in step with the controller.
//
// A failed poll leaves the store untouched, so devices are not counted as
// missing while the controller itself is unavailable.
type Poller struct {
	source    Source
	store     Store
	interval  time.Duration
	timeout   time.Duration
	observers []Observer
	logger    Logger
	tracer    trace.Tracer

	trigger chan struct{}

	// pollMu serialises polls so scheduled and triggered runs never overlap.
	pollMu sync.Mutex

	statusMu sync.RWMutex
	status   Status
}

// New creates a Poller.
func New(opts Options) (*Poller, error) {
	if opts.Source == nil || opts.Store == nil {
		return nil, errors.New("poller: source and store are required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &Poller{
		source:    opts.Source,
		store:     opts.Store,
		interval:  interval,
		timeout:   timeout,
		observers: opts.Observers,
		logger:    logger,
		tracer:    otel.Tracer("connectd/poller"),
		trigger:   make(chan struct{}, 1),
	}, nil
}

// Run polls immediately, then every interval and whenever TriggerRefresh is
// called, until ctx is cancelled.
//
// Transient failures are logged and retried on the next tick. An
// authentication failure stops the loop and is returned, since retrying
// with the same credentials cannot succeed.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", "interval", p.interval, "timeout", p.timeout)
	defer p.logger.Info("poller stopped")

	if err := p.PollOnce(ctx); isFatal(err) {
		return err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.trigger:
		}
		if err := p.PollOnce(ctx); isFatal(err) {
			return err
		}
	}
}

// TriggerRefresh requests an immediate poll. Requests made while one is
// already pending are coalesced.
func (p *Poller) TriggerRefresh() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// PollOnce lists devices and applies them to the store.
func (p *Poller) PollOnce(ctx context.Context) error {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	ctx, span := p.tracer.Start(ctx, "poller.Poll")
	defer span.End()

	started := time.Now()
	pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
	raw, err := p.source.ListDevices(pollCtx)
	cancel()

	res := Result{Started: started}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		err = fmt.Errorf("poll devices: %w", err)
		res.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, "poll failed")
		if isFatal(err) {
			p.logger.Error("controller rejected credentials, polling stopped", "error", err)
		} else {
			p.logger.Warn("poll failed", "error", err)
		}
	} else {
		events := p.store.Refresh(TranslateAll(raw))
		res.Devices = len(raw)
		res.Events = len(events)
		span.SetAttributes(
			attribute.Int("connect.devices", res.Devices),
			attribute.Int("connect.events", res.Events),
		)
		if res.Events > 0 {
			p.logger.Debug("poll applied", "devices", res.Devices, "events", res.Events)
		}
	}
	res.Duration = time.Since(started)

	p.record(res)
	for _, o := range p.observers {
		o.ObservePoll(ctx, res)
	}
	return res.Err
}

// Status returns the poller's health summary.
func (p *Poller) Status() Status {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return p.status
}

func (p *Poller) record(res Result) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()

	p.status.Polls++
	if res.Err != nil {
		p.status.Failures++
		p.status.LastError = res.Err.Error()
		p.status.LastErrorAt = res.Started
		return
	}
	p.status.Devices = res.Devices
	p.status.LastSuccess = res.Started
}

func isFatal(err error) bool {
	return errors.Is(err, controller.ErrAuthentication)
}
