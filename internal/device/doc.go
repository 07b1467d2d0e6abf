// Package device provides the Device State Store for connectd.
//
// The store is the in-memory picture of every device the controller
// manages. It is fed by polls (Refresh) and by the command dispatcher's
// optimistic updates (ApplyOptimistic), and it turns both into a stream of
// field-level events for presentation layers.
//
// # Architecture
//
//	┌──────────────┐  observations   ┌──────────────────────────────┐
//	│    Poller    │────────────────▶│            Store             │
//	└──────────────┘                 │                              │
//	┌──────────────┐  Patch          │ • per-device atomic updates  │
//	│  Dispatcher  │────────────────▶│ • miss counting / offline    │
//	└──────────────┘                 │ • capability-gated fields    │
//	                                 └──────────────┬───────────────┘
//	                                                │ Event
//	                         ┌──────────────────────┼───────────────┐
//	                         ▼                      ▼               ▼
//	                    MQTT bridge           WebSocket hub     metrics
//
// # Events
//
//   - device_added: first time a device is observed
//   - device_state_changed: one or more fields changed (only those are sent)
//   - device_offline: missing for OfflineAfterMisses polls, or reported
//     offline by the controller; emitted once per transition
//   - device_removed: missing for RemoveAfterMisses polls (if enabled)
//
// A device that comes back after going offline is reported through
// device_state_changed, never device_added.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Snapshots returned by Get, List
// and events are copies; mutating them never affects the store.
package device
