package metrics

import (
	"context"

	"github.com/hitchin999/unifi-connect-display/internal/dispatch"
	"github.com/hitchin999/unifi-connect-display/internal/infrastructure/influxdb"
	"github.com/hitchin999/unifi-connect-display/internal/poller"
)

// PointWriter is the subset of influxdb.Client the sink needs.
type PointWriter interface {
	WriteCommand(p influxdb.CommandPoint)
	WritePoll(p influxdb.PollPoint)
}

// InfluxSink forwards command and poll outcomes to InfluxDB. Writes are
// batched by the client, so neither method blocks the caller.
type InfluxSink struct {
	writer PointWriter
}

// NewInfluxSink wraps a writer, usually an *influxdb.Client.
func NewInfluxSink(w PointWriter) *InfluxSink {
	return &InfluxSink{writer: w}
}

// RecordCommand implements dispatch.Recorder.
func (s *InfluxSink) RecordCommand(_ context.Context, rec dispatch.Record) {
	s.writer.WriteCommand(influxdb.CommandPoint{
		DeviceID:  rec.Command.DeviceID,
		Model:     string(rec.Outcome.Device.Model),
		Action:    string(rec.Command.Action),
		Result:    rec.Result(),
		ErrorCode: rec.ErrorCode(),
		Source:    rec.Command.Source,
		Duration:  rec.Duration,
		Time:      rec.Started,
	})
}

// ObservePoll implements poller.Observer.
func (s *InfluxSink) ObservePoll(_ context.Context, res poller.Result) {
	s.writer.WritePoll(influxdb.PollPoint{
		Success:  res.Err == nil,
		Devices:  res.Devices,
		Events:   res.Events,
		Duration: res.Duration,
		Time:     res.Started,
	})
}
