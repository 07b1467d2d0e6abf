package capability

import "sort"

// Model identifies a device model as reported by the controller
// (e.g. "UC-Display-7").
type Model string

// Capability is a feature a device model supports.
type Capability string

// Capabilities known to the registry. A model's capability set is drawn
// from this list; anything else is rejected when the registry is built.
const (
	CapPower          Capability = "power"
	CapPlayPauseStop  Capability = "play_pause_stop"
	CapVolume         Capability = "volume"
	CapBrightness     Capability = "brightness"
	CapSource         Capability = "source"
	CapLoadWebsite    Capability = "load_website"
	CapReboot         Capability = "reboot"
	CapLocate         Capability = "locate"
	CapRotate         Capability = "rotate"
	CapSleep          Capability = "sleep"
	CapFirmwareUpdate Capability = "firmware_update"
)

// Action is a logical command name, independent of the controller's wire
// vocabulary.
type Action string

// Logical actions accepted by the command dispatcher.
const (
	ActionPowerOn        Action = "power_on"
	ActionPowerOff       Action = "power_off"
	ActionPlay           Action = "play"
	ActionPause          Action = "pause"
	ActionStop           Action = "stop"
	ActionSetVolume      Action = "set_volume"
	ActionSetBrightness  Action = "set_brightness"
	ActionSelectSource   Action = "select_source"
	ActionLoadWebsite    Action = "load_website"
	ActionReboot         Action = "reboot"
	ActionLocate         Action = "locate"
	ActionStopLocate     Action = "stop_locate"
	ActionRotate         Action = "rotate"
	ActionSleep          Action = "sleep"
	ActionFirmwareUpdate Action = "firmware_update"
)

// PayloadKind describes the argument an action expects.
type PayloadKind int

const (
	// PayloadNone means the action takes no argument.
	PayloadNone PayloadKind = iota
	// PayloadLevel is an integer percentage in [0, 100].
	PayloadLevel
	// PayloadURL is a non-empty absolute http(s) URL.
	PayloadURL
	// PayloadSource is one of the selectable sources ("cast", "website").
	PayloadSource
	// PayloadOrientation is an optional screen orientation.
	PayloadOrientation
	// PayloadPlaylist is an optional playlist identifier.
	PayloadPlaylist
)

// ActionDef is the canonical definition of a logical action.
type ActionDef struct {
	Action     Action      // Logical name (e.g. "set_volume")
	Capability Capability  // Capability that gates the action
	WireName   string      // Name the controller expects in the command body
	Payload    PayloadKind // Expected argument
}

// CanonicalActions is the exhaustive list of logical actions. It is the
// single source for capability gating, wire names and payload shape; models
// only decide which capabilities they carry and which identifiers they use.
var CanonicalActions = []ActionDef{
	// ── Power ────────────────────────────────────────────────
	{Action: ActionPowerOn, Capability: CapPower, WireName: "power_on", Payload: PayloadNone},
	{Action: ActionPowerOff, Capability: CapPower, WireName: "power_off", Payload: PayloadNone},

	// ── Playback ─────────────────────────────────────────────
	{Action: ActionPlay, Capability: CapPlayPauseStop, WireName: "play", Payload: PayloadPlaylist},
	{Action: ActionPause, Capability: CapPlayPauseStop, WireName: "pause", Payload: PayloadNone},
	{Action: ActionStop, Capability: CapPlayPauseStop, WireName: "stop", Payload: PayloadNone},

	// ── Levels ───────────────────────────────────────────────
	{Action: ActionSetVolume, Capability: CapVolume, WireName: "volume", Payload: PayloadLevel},
	{Action: ActionSetBrightness, Capability: CapBrightness, WireName: "brightness", Payload: PayloadLevel},

	// ── Content ──────────────────────────────────────────────
	{Action: ActionSelectSource, Capability: CapSource, WireName: "switch", Payload: PayloadSource},
	{Action: ActionLoadWebsite, Capability: CapLoadWebsite, WireName: "load_website", Payload: PayloadURL},

	// ── Maintenance ──────────────────────────────────────────
	{Action: ActionReboot, Capability: CapReboot, WireName: "reboot", Payload: PayloadNone},
	{Action: ActionLocate, Capability: CapLocate, WireName: "start_locating", Payload: PayloadNone},
	{Action: ActionStopLocate, Capability: CapLocate, WireName: "stop_locating", Payload: PayloadNone},
	{Action: ActionRotate, Capability: CapRotate, WireName: "rotate", Payload: PayloadOrientation},
	{Action: ActionSleep, Capability: CapSleep, WireName: "sleep", Payload: PayloadNone},
	{Action: ActionFirmwareUpdate, Capability: CapFirmwareUpdate, WireName: "firmware_update", Payload: PayloadNone},
}

var (
	actionIndex     map[Action]ActionDef
	capabilityIndex map[Capability][]Action
)

func init() {
	actionIndex = make(map[Action]ActionDef, len(CanonicalActions))
	capabilityIndex = make(map[Capability][]Action)
	for _, def := range CanonicalActions {
		actionIndex[def.Action] = def
		capabilityIndex[def.Capability] = append(capabilityIndex[def.Capability], def.Action)
	}
}

// LookupAction returns the canonical definition for an action.
func LookupAction(a Action) (ActionDef, bool) {
	def, ok := actionIndex[a]
	return def, ok
}

// ActionsFor returns the actions gated by a capability.
func ActionsFor(c Capability) []Action {
	actions := capabilityIndex[c]
	out := make([]Action, len(actions))
	copy(out, actions)
	return out
}

// IsKnownCapability reports whether c is a recognised capability.
func IsKnownCapability(c Capability) bool {
	_, ok := capabilityIndex[c]
	return ok
}

// Set is an immutable set of capabilities.
type Set struct {
	caps map[Capability]struct{}
}

// NewSet builds a Set from a list of capabilities. Duplicates collapse.
func NewSet(caps ...Capability) Set {
	s := Set{caps: make(map[Capability]struct{}, len(caps))}
	for _, c := range caps {
		s.caps[c] = struct{}{}
	}
	return s
}

// Has reports whether the set contains c.
func (s Set) Has(c Capability) bool {
	_, ok := s.caps[c]
	return ok
}

// Len returns the number of capabilities in the set.
func (s Set) Len() int {
	return len(s.caps)
}

// List returns the capabilities sorted by name.
func (s Set) List() []Capability {
	out := make([]Capability, 0, len(s.caps))
	for c := range s.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Description is a read-only view of one model's registry entry.
type Description struct {
	Model        Model             `json:"model"`
	Description  string            `json:"description,omitempty"`
	Capabilities []Capability      `json:"capabilities"`
	Actions      map[Action]string `json:"actions"`
}
