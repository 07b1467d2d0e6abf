// Package bridge exposes the display fleet over MQTT.
//
// Automation systems publish commands and receive acknowledgements, device
// snapshots and change events without speaking the controller's API:
//
//	 automation ──connect/command/{id}──▶ Bridge ──Dispatch──▶ dispatcher
//	            ◀──connect/ack/{id}─────        ◀──Outcome────
//
//	 device store ──Event──▶ Bridge ──▶ connect/event/{id}
//	                                └─▶ connect/state/{id}  (retained)
//
// A command payload looks like:
//
//	{"id":"c-42","action":"set_volume","parameters":{"level":35},"source":"node-red"}
//
// The device ID comes from the topic. A device_id field in the payload is
// optional and must match. Every command is acknowledged exactly once with
// status accepted or failed; failures carry the dispatch error code, or
// BRIDGE_ERROR when the message itself was unusable.
//
// Store events are queued and published in order by a single goroutine.
// If the queue overflows, queued events are dropped and every retained
// state is republished, so subscribers converge on the current snapshot.
//
// The HealthReporter publishes a retained status on connect/health at a
// fixed interval.
package bridge
