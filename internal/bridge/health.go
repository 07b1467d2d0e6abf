package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hitchin999/unifi-connect-display/internal/device"
	"github.com/hitchin999/unifi-connect-display/internal/infrastructure/mqtt"
	"github.com/hitchin999/unifi-connect-display/internal/poller"
)

const (
	defaultHealthInterval = 30 * time.Second
	bridgeName            = "connectd"
)

// HealthPublisher publishes health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Version string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	Publisher  HealthPublisher
	Devices    func() device.Stats
	PollStatus func() poller.Status
	Statistics func() BridgeStatistics
	Logger     Logger
}

// HealthReporter periodically publishes a retained HealthMessage on
// connect/health.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a health reporter. Call Start to begin.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	var logger Logger = noopLogger{}
	if cfg.Logger != nil {
		logger = cfg.Logger
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final stopping status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// PublishStarting publishes a starting status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Warn("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Warn("failed to publish health", "error", err)
			}
		}
	}
}

// determineStatus is degraded while the broker is unreachable or the last
// controller poll failed, and starting until the first poll succeeds.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.cfg.PollStatus == nil {
		return HealthHealthy, ""
	}

	st := h.cfg.PollStatus()
	switch {
	case st.LastSuccess.IsZero() && st.LastError == "":
		return HealthStarting, "waiting for first poll"
	case !st.Healthy():
		return HealthDegraded, "controller poll failing: " + st.LastError
	default:
		return HealthHealthy, ""
	}
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        bridgeName,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Reason:        reason,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
	if h.cfg.Devices != nil {
		msg.Devices = h.cfg.Devices()
	}
	if h.cfg.Statistics != nil {
		msg.Statistics = h.cfg.Statistics()
	}
	if h.cfg.PollStatus != nil {
		st := h.cfg.PollStatus()
		ph := &PollHealth{Polls: st.Polls, Failures: st.Failures, LastError: st.LastError}
		if !st.LastSuccess.IsZero() {
			last := st.LastSuccess.UTC()
			ph.LastSuccess = &last
		}
		msg.Poll = ph
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(mqtt.Topics{}.Health(), payload, 1, true)
}
