// Package poller keeps the device store synchronised with the controller.
//
// Each poll lists devices through the controller session, translates the
// controller's records into store observations and applies them with
// device.Store.Refresh:
//
//	ticker / TriggerRefresh
//	        │
//	        ▼
//	ListDevices ──► Translate ──► Store.Refresh ──► events
//
// The controller's event feed and the command dispatcher call
// TriggerRefresh to request an out-of-cycle poll.
package poller
