// Package influxdb writes connectd's operational telemetry to InfluxDB v2.
//
// Two measurements are written:
//   - command: one point per dispatched command (tags device_id, action,
//     result, model, source; fields duration_ms, count, error_code)
//   - poll: one point per controller poll (tag result; fields duration_ms,
//     devices, events)
//
// Device state itself is never written here.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteCommand(influxdb.CommandPoint{DeviceID: "abc", Action: "reboot", Result: "accepted"})
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; asynchronous failures are delivered to SetOnError.
package influxdb
