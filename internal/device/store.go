package device

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitchin999/unifi-connect-display/internal/capability"
)

// DefaultOfflineAfterMisses is how many consecutive polls a device may be
// missing from before it is marked offline.
const DefaultOfflineAfterMisses = 3

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// CapabilityLookup resolves a model's capability set.
type CapabilityLookup interface {
	CapabilitiesFor(model capability.Model) (capability.Set, error)
}

// Options configures a Store.
type Options struct {
	// Capabilities decides which capability-gated fields a device carries.
	Capabilities CapabilityLookup

	// OfflineAfterMisses marks a device offline after this many consecutive
	// polls without it. Zero means DefaultOfflineAfterMisses.
	OfflineAfterMisses int

	// RemoveAfterMisses removes a device after this many consecutive misses.
	// Zero keeps missing devices forever.
	RemoveAfterMisses int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

type entry struct {
	dev    Device
	misses int
}

// Store is the in-memory cache of device snapshots.
//
// Writers (Refresh, ApplyOptimistic) change each device atomically and
// deliver the resulting events in order, outside the data lock. Readers
// always receive copies.
//
// Event handlers must not call Refresh or ApplyOptimistic.
type Store struct {
	caps         CapabilityLookup
	offlineAfter int
	removeAfter  int
	now          func() time.Time

	publishMu sync.Mutex // Serialises writers so events are delivered in order
	mu        sync.RWMutex
	devices   map[string]*entry

	subsMu  sync.RWMutex
	subs    map[uint64]func(Event)
	nextSub uint64

	logger Logger
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	offlineAfter := opts.OfflineAfterMisses
	if offlineAfter <= 0 {
		offlineAfter = DefaultOfflineAfterMisses
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		caps:         opts.Capabilities,
		offlineAfter: offlineAfter,
		removeAfter:  opts.RemoveAfterMisses,
		now:          now,
		devices:      make(map[string]*entry),
		subs:         make(map[uint64]func(Event)),
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Subscribe registers a handler for store events and returns a function
// that removes it.
func (s *Store) Subscribe(handler func(Event)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = handler
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

// Refresh reconciles the store with the devices from one successful poll
// and returns the events it emitted.
//
// New devices produce EventAdded; devices whose fields changed produce
// EventStateChanged carrying only the changed fields (EventOffline if the
// controller now reports them offline); unchanged devices produce nothing.
// Devices missing from the poll go offline after OfflineAfterMisses
// consecutive misses, exactly once, and are removed after
// RemoveAfterMisses if configured. Controller values always replace
// optimistic ones; an unreported playback state keeps the current value.
func (s *Store) Refresh(observations []Observation) []Event {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	now := s.now()
	seen := make(map[string]bool, len(observations))
	var events []Event

	for _, o := range observations {
		if o.ID == "" || seen[o.ID] {
			continue
		}
		seen[o.ID] = true

		e, ok := s.devices[o.ID]
		if ok && o.Playback == "" {
			o.Playback = e.dev.Playback
		}
		next := s.fromObservation(o, now)
		if !ok {
			next.UpdatedAt = now
			s.devices[o.ID] = &entry{dev: next}
			events = append(events, Event{Type: EventAdded, DeviceID: o.ID, Device: next.Clone(), Timestamp: now})
			continue
		}

		prev := e.dev
		changes := diff(prev, next)
		e.misses = 0
		next.UpdatedAt = prev.UpdatedAt
		if len(changes) > 0 {
			next.UpdatedAt = now
		}
		e.dev = next
		if len(changes) == 0 {
			continue
		}

		typ := EventStateChanged
		if prev.Online && !next.Online {
			typ = EventOffline
		}
		events = append(events, Event{Type: typ, DeviceID: o.ID, Device: next.Clone(), Changes: changes, Timestamp: now})
	}

	var missing []Event
	for id, e := range s.devices {
		if seen[id] {
			continue
		}
		e.misses++

		if s.removeAfter > 0 && e.misses >= s.removeAfter {
			delete(s.devices, id)
			missing = append(missing, Event{Type: EventRemoved, DeviceID: id, Device: e.dev.Clone(), Timestamp: now})
			continue
		}
		if e.misses >= s.offlineAfter && e.dev.Online {
			e.dev.Online = false
			e.dev.UpdatedAt = now
			missing = append(missing, Event{
				Type:      EventOffline,
				DeviceID:  id,
				Device:    e.dev.Clone(),
				Changes:   Changes{FieldOnline: false},
				Timestamp: now,
			})
		}
	}
	s.mu.Unlock()

	sort.Slice(missing, func(i, j int) bool { return missing[i].DeviceID < missing[j].DeviceID })
	events = append(events, missing...)

	if len(events) > 0 {
		s.logger.Debug("device store refreshed", "observed", len(seen), "events", len(events))
	}
	s.notify(events)
	return events
}

// Get returns a snapshot of one device.
// Returns ErrUnknownDevice if the device is not in the store.
func (s *Store) Get(id string) (Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return e.dev.Clone(), nil
}

// List returns snapshots of all devices sorted by name, then ID.
func (s *Store) List() []Device {
	s.mu.RLock()
	out := make([]Device, 0, len(s.devices))
	for _, e := range s.devices {
		out = append(out, e.dev.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stats returns device counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Total: len(s.devices)}
	for _, e := range s.devices {
		if e.dev.Online {
			st.Online++
		} else {
			st.Offline++
		}
	}
	return st
}

// ApplyOptimistic applies a patch ahead of controller confirmation.
//
// Changed fields are marked unconfirmed and reported as one
// EventStateChanged. Values the device's capabilities cannot carry are
// dropped. The next Refresh overwrites everything with controller truth.
// Returns the resulting snapshot, or ErrUnknownDevice.
func (s *Store) ApplyOptimistic(id string, p Patch) (Device, error) {
	if p.IsEmpty() {
		return Device{}, fmt.Errorf("%w: no fields set", ErrInvalidPatch)
	}
	if err := validatePatch(p); err != nil {
		return Device{}, err
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	e, ok := s.devices[id]
	if !ok {
		s.mu.Unlock()
		return Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	next := e.dev.Clone()
	applyPatch(&next, p)
	s.normalize(&next)

	changes := diff(e.dev, next)
	if len(changes) == 0 {
		snapshot := e.dev.Clone()
		s.mu.Unlock()
		return snapshot, nil
	}

	now := s.now()
	for f := range changes {
		if !next.IsUnconfirmed(f) {
			next.Unconfirmed = append(next.Unconfirmed, f)
		}
	}
	sort.Slice(next.Unconfirmed, func(i, j int) bool { return next.Unconfirmed[i] < next.Unconfirmed[j] })
	next.UpdatedAt = now
	e.dev = next

	ev := Event{Type: EventStateChanged, DeviceID: id, Device: next.Clone(), Changes: changes, Timestamp: now}
	snapshot := next.Clone()
	s.mu.Unlock()

	s.notify([]Event{ev})
	return snapshot, nil
}

// notify delivers events to every subscriber. A panicking handler is
// logged and does not affect other handlers.
func (s *Store) notify(events []Event) {
	if len(events) == 0 {
		return
	}

	s.subsMu.RLock()
	handlers := make([]func(Event), 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.subsMu.RUnlock()

	for _, ev := range events {
		for _, h := range handlers {
			s.deliver(h, ev.clone())
		}
	}
}

func (s *Store) deliver(h func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("device event handler panicked", "event", ev.Type, "device_id", ev.DeviceID, "panic", r)
		}
	}()
	h(ev)
}

// fromObservation builds a normalised device record from a poll result.
func (s *Store) fromObservation(o Observation, now time.Time) Device {
	d := Device{
		ID:              o.ID,
		Name:            o.Name,
		Model:           o.Model,
		Online:          o.Online,
		Power:           o.Power,
		Playback:        o.Playback,
		Source:          o.Source,
		Volume:          cloneInt(o.Volume),
		Brightness:      cloneInt(o.Brightness),
		CurrentURL:      cloneString(o.CurrentURL),
		Orientation:     cloneString(o.Orientation),
		FirmwareVersion: o.FirmwareVersion,
		LastSeen:        now,
	}
	s.normalize(&d)
	return d
}

// normalize enforces the record invariants: capability-gated fields exist
// only when the model carries the capability, levels stay in [0, 100] and
// playback is stopped while power is off.
func (s *Store) normalize(d *Device) {
	if d.Power == "" {
		d.Power = PowerOff
	}
	if d.Playback == "" || d.Power == PowerOff {
		d.Playback = PlaybackStopped
	}

	var caps capability.Set
	if s.caps != nil {
		if set, err := s.caps.CapabilitiesFor(d.Model); err == nil {
			caps = set
		}
	}

	if !caps.Has(capability.CapVolume) {
		d.Volume = nil
	} else if d.Volume != nil {
		d.Volume = IntPtr(clampLevel(*d.Volume))
	}
	if !caps.Has(capability.CapBrightness) {
		d.Brightness = nil
	} else if d.Brightness != nil {
		d.Brightness = IntPtr(clampLevel(*d.Brightness))
	}
	if !caps.Has(capability.CapLoadWebsite) || d.Source != SourceWebsite {
		d.CurrentURL = nil
	}
	if !caps.Has(capability.CapRotate) {
		d.Orientation = nil
	}
}

func validatePatch(p Patch) error {
	if p.Power != nil && *p.Power != PowerOn && *p.Power != PowerOff {
		return fmt.Errorf("%w: power %q", ErrInvalidPatch, *p.Power)
	}
	if p.Playback != nil {
		switch *p.Playback {
		case PlaybackStopped, PlaybackPlaying, PlaybackPaused:
		default:
			return fmt.Errorf("%w: playback %q", ErrInvalidPatch, *p.Playback)
		}
	}
	if p.Source != nil && !ValidSource(*p.Source) {
		return fmt.Errorf("%w: source %q", ErrInvalidPatch, *p.Source)
	}
	if p.Volume != nil && (*p.Volume < 0 || *p.Volume > 100) {
		return fmt.Errorf("%w: volume %d out of range", ErrInvalidPatch, *p.Volume)
	}
	if p.Brightness != nil && (*p.Brightness < 0 || *p.Brightness > 100) {
		return fmt.Errorf("%w: brightness %d out of range", ErrInvalidPatch, *p.Brightness)
	}
	return nil
}

func applyPatch(d *Device, p Patch) {
	if p.Power != nil {
		d.Power = *p.Power
	}
	if p.Playback != nil {
		d.Playback = *p.Playback
	}
	if p.Source != nil {
		d.Source = *p.Source
	}
	if p.Volume != nil {
		d.Volume = IntPtr(*p.Volume)
	}
	if p.Brightness != nil {
		d.Brightness = IntPtr(*p.Brightness)
	}
	if p.CurrentURL != nil {
		d.CurrentURL = StringPtr(*p.CurrentURL)
	}
	if p.Orientation != nil {
		d.Orientation = StringPtr(*p.Orientation)
	}
}

func clampLevel(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
