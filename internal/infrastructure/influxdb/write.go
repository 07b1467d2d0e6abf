package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementCommand = "command"
	MeasurementPoll    = "poll"
)

// CommandPoint is the telemetry of one dispatched command.
type CommandPoint struct {
	DeviceID  string
	Model     string
	Action    string
	Result    string
	ErrorCode string
	Source    string
	Duration  time.Duration
	Time      time.Time
}

// PollPoint is the telemetry of one controller poll.
type PollPoint struct {
	Success  bool
	Devices  int
	Events   int
	Duration time.Duration
	Time     time.Time
}

// WriteCommand records a command outcome. Device IDs and actions are tags;
// the count of displays per site keeps their cardinality low.
func (c *Client) WriteCommand(p CommandPoint) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"device_id": p.DeviceID,
		"action":    p.Action,
		"result":    p.Result,
	}
	if p.Model != "" {
		tags["model"] = p.Model
	}
	if p.Source != "" {
		tags["source"] = p.Source
	}

	fields := map[string]any{
		"duration_ms": float64(p.Duration.Microseconds()) / 1000,
		"count":       1,
	}
	if p.ErrorCode != "" {
		fields["error_code"] = p.ErrorCode
	}

	c.writeAPI.WritePoint(write.NewPoint(MeasurementCommand, tags, fields, pointTime(p.Time)))
}

// WritePoll records a poll outcome.
func (c *Client) WritePoll(p PollPoint) {
	if !c.IsConnected() {
		return
	}

	result := "success"
	if !p.Success {
		result = "error"
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementPoll,
		map[string]string{"result": result},
		map[string]any{
			"duration_ms": float64(p.Duration.Microseconds()) / 1000,
			"devices":     p.Devices,
			"events":      p.Events,
		},
		pointTime(p.Time),
	))
}

func pointTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
