package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic connectd publishes or subscribes to.
const TopicPrefix = "connect"

// Topics builds connectd topic names.
//
//	connect/command/{device_id}   inbound commands
//	connect/ack/{device_id}       command acknowledgements
//	connect/state/{device_id}     retained device snapshots
//	connect/event/{device_id}     store events
//	connect/health                retained bridge health
//	connect/system/status         service online/offline (LWT)
type Topics struct{}

// Command returns the command topic for a device.
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// Ack returns the acknowledgement topic for a device.
func (Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// State returns the retained state topic for a device.
func (Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// Event returns the event topic for a device.
func (Topics) Event(deviceID string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, deviceID)
}

// Health returns the bridge health topic.
func (Topics) Health() string {
	return TopicPrefix + "/health"
}

// SystemStatus returns the service status topic carrying the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllCommands matches commands for every device.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+"
}

// AllStates matches every retained device state.
func (Topics) AllStates() string {
	return TopicPrefix + "/state/+"
}

// All matches every connectd topic.
func (Topics) All() string {
	return TopicPrefix + "/#"
}

// CommandDeviceID extracts the device ID from a command topic.
func CommandDeviceID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+"/command/")
	if !ok || !ValidSegment(rest) {
		return "", false
	}
	return rest, true
}

// ValidSegment reports whether s can be used as a single topic level:
// non-empty and free of separators and wildcards.
func ValidSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#\x00")
}
