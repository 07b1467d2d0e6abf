package device

import (
	"time"

	"github.com/hitchin999/unifi-connect-display/internal/capability"
)

// PowerState is the power state of a device's screen or output.
type PowerState string

const (
	PowerOff PowerState = "off"
	PowerOn  PowerState = "on"
)

// PlaybackState is the content playback state. It is only meaningful while
// the device is powered on; the store reports PlaybackStopped otherwise.
type PlaybackState string

const (
	PlaybackStopped PlaybackState = "stopped"
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
)

// Source is the selected content source.
type Source string

const (
	SourceCast    Source = "cast"
	SourceWebsite Source = "website"
)

// ValidSource reports whether s is a selectable source.
func ValidSource(s Source) bool {
	return s == SourceCast || s == SourceWebsite
}

// Field names a device attribute in change sets.
type Field string

const (
	FieldName        Field = "name"
	FieldModel       Field = "model"
	FieldOnline      Field = "online"
	FieldPower       Field = "power"
	FieldPlayback    Field = "playback"
	FieldSource      Field = "source"
	FieldVolume      Field = "volume"
	FieldBrightness  Field = "brightness"
	FieldCurrentURL  Field = "current_url"
	FieldOrientation Field = "orientation"
	FieldFirmware    Field = "firmware_version"
)

// Device is a snapshot of one device as known to the store.
//
// Capability-gated fields are nil when the model does not carry the
// capability: Volume (volume), Brightness (brightness), CurrentURL
// (load_website, and only while Source is website) and Orientation (rotate).
type Device struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Model           capability.Model `json:"model"`
	Online          bool             `json:"online"`
	Power           PowerState       `json:"power"`
	Playback        PlaybackState    `json:"playback"`
	Source          Source           `json:"source,omitempty"`
	Volume          *int             `json:"volume,omitempty"`
	Brightness      *int             `json:"brightness,omitempty"`
	CurrentURL      *string          `json:"current_url,omitempty"`
	Orientation     *string          `json:"orientation,omitempty"`
	FirmwareVersion string           `json:"firmware_version,omitempty"`
	LastSeen        time.Time        `json:"last_seen"`
	UpdatedAt       time.Time        `json:"updated_at"`

	// Unconfirmed lists fields whose value came from an optimistic update
	// that no poll has confirmed yet.
	Unconfirmed []Field `json:"unconfirmed,omitempty"`
}

// Clone returns a copy of d that shares no memory with it.
func (d Device) Clone() Device {
	out := d
	out.Volume = cloneInt(d.Volume)
	out.Brightness = cloneInt(d.Brightness)
	out.CurrentURL = cloneString(d.CurrentURL)
	out.Orientation = cloneString(d.Orientation)
	if d.Unconfirmed != nil {
		out.Unconfirmed = make([]Field, len(d.Unconfirmed))
		copy(out.Unconfirmed, d.Unconfirmed)
	}
	return out
}

// IsUnconfirmed reports whether f holds an optimistic value.
func (d Device) IsUnconfirmed(f Field) bool {
	for _, u := range d.Unconfirmed {
		if u == f {
			return true
		}
	}
	return false
}

// Observation is one device as reported by a controller poll, already
// translated into store vocabulary.
type Observation struct {
	ID              string
	Name            string
	Model           capability.Model
	Online          bool
	Power           PowerState
	Source          Source
	Volume          *int
	Brightness      *int
	CurrentURL      *string
	Orientation     *string
	FirmwareVersion string

	// Playback is empty when the controller did not report it. The store
	// then keeps the device's current value.
	Playback PlaybackState
}

// Patch is an optimistic update. Nil fields are left untouched.
type Patch struct {
	Power       *PowerState
	Playback    *PlaybackState
	Source      *Source
	Volume      *int
	Brightness  *int
	CurrentURL  *string
	Orientation *string
}

// IsEmpty reports whether the patch sets no field.
func (p Patch) IsEmpty() bool {
	return p.Power == nil && p.Playback == nil && p.Source == nil &&
		p.Volume == nil && p.Brightness == nil && p.CurrentURL == nil && p.Orientation == nil
}

// Changes maps changed fields to their new values. A nil value means the
// field is no longer present.
type Changes map[Field]any

// EventType classifies store events.
type EventType string

const (
	EventAdded        EventType = "device_added"
	EventStateChanged EventType = "device_state_changed"
	EventOffline      EventType = "device_offline"
	EventRemoved      EventType = "device_removed"
)

// Event is emitted for every visible change in the store.
type Event struct {
	Type      EventType `json:"type"`
	DeviceID  string    `json:"device_id"`
	Device    Device    `json:"device"`
	Changes   Changes   `json:"changes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e Event) clone() Event {
	out := e
	out.Device = e.Device.Clone()
	if e.Changes != nil {
		out.Changes = make(Changes, len(e.Changes))
		for k, v := range e.Changes {
			out.Changes[k] = v
		}
	}
	return out
}

// Stats summarises the store contents.
type Stats struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
