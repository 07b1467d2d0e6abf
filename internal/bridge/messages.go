package bridge

import (
	"time"

	"github.com/hitchin999/unifi-connect-display/internal/capability"
	"github.com/hitchin999/unifi-connect-display/internal/device"
	"github.com/hitchin999/unifi-connect-display/internal/dispatch"
)

// CommandMessage is received on connect/command/{device_id}.
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. Generated when empty.
	ID string `json:"id"`

	// DeviceID must match the topic when present; the topic wins when empty.
	DeviceID string `json:"device_id,omitempty"`

	Action     capability.Action `json:"action"`
	Parameters map[string]any    `json:"parameters,omitempty"`

	// Source names the originating system ("home-assistant", "node-red", ...).
	// Defaults to "mqtt".
	Source string `json:"source,omitempty"`
}

// AckStatus is the outcome carried by an acknowledgement.
type AckStatus string

// Acknowledgement statuses.
const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// ErrCodeBridge reports a message the bridge could not turn into a command
// (malformed JSON, device ID that disagrees with the topic).
const ErrCodeBridge = "BRIDGE_ERROR"

// AckMessage is published on connect/ack/{device_id}.
type AckMessage struct {
	CommandID  string            `json:"command_id"`
	Timestamp  time.Time         `json:"timestamp"`
	DeviceID   string            `json:"device_id"`
	Action     capability.Action `json:"action,omitempty"`
	Status     AckStatus         `json:"status"`
	DurationMS int64             `json:"duration_ms"`

	// Device is the post-command snapshot, including optimistic fields.
	Device *device.Device `json:"device,omitempty"`

	Result map[string]any `json:"result,omitempty"`
	Error  *AckError      `json:"error,omitempty"`
}

// AckError describes why a command failed.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newAck(cmd CommandMessage, out dispatch.Outcome, err error) AckMessage {
	ack := AckMessage{
		CommandID:  cmd.ID,
		Timestamp:  time.Now().UTC(),
		DeviceID:   cmd.DeviceID,
		Action:     cmd.Action,
		DurationMS: out.Duration.Milliseconds(),
	}
	if err != nil {
		ack.Status = AckFailed
		ack.Error = &AckError{Code: dispatch.ErrorCode(err), Message: err.Error()}
		return ack
	}

	ack.Status = AckAccepted
	snapshot := out.Device
	ack.Device = &snapshot
	ack.Result = out.Result
	return ack
}

func newBridgeErrorAck(cmd CommandMessage, message string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Action:    cmd.Action,
		Status:    AckFailed,
		Error:     &AckError{Code: ErrCodeBridge, Message: message},
	}
}

// HealthStatus is the overall bridge status.
type HealthStatus string

// Health statuses.
const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published, retained, on connect/health.
type HealthMessage struct {
	Bridge        string           `json:"bridge"`
	Timestamp     time.Time        `json:"timestamp"`
	Status        HealthStatus     `json:"status"`
	Reason        string           `json:"reason,omitempty"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Devices       device.Stats     `json:"devices"`
	Poll          *PollHealth      `json:"poll,omitempty"`
	Statistics    BridgeStatistics `json:"statistics"`
}

// PollHealth summarises the controller poll loop.
type PollHealth struct {
	Polls       uint64     `json:"polls"`
	Failures    uint64     `json:"failures"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// BridgeStatistics counts MQTT traffic since start.
type BridgeStatistics struct {
	CommandsReceived uint64 `json:"commands_received"`
	CommandsAccepted uint64 `json:"commands_accepted"`
	CommandsFailed   uint64 `json:"commands_failed"`
	EventsPublished  uint64 `json:"events_published"`
}
