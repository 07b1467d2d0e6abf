package device

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitchin999/unifi-connect-display/internal/capability"
)

// mockCapabilities is a test implementation of CapabilityLookup.
type mockCapabilities map[capability.Model]capability.Set

func (m mockCapabilities) CapabilitiesFor(model capability.Model) (capability.Set, error) {
	set, ok := m[model]
	if !ok {
		return capability.Set{}, capability.ErrUnknownModel
	}
	return set, nil
}

func testCapabilities() mockCapabilities {
	return mockCapabilities{
		"UC-Display-7": capability.NewSet(
			capability.CapPower, capability.CapPlayPauseStop, capability.CapVolume,
			capability.CapBrightness, capability.CapSource, capability.CapLoadWebsite,
			capability.CapRotate,
		),
		"UC-Cast-Pro": capability.NewSet(capability.CapPower, capability.CapVolume, capability.CapSource),
	}
}

// eventRecorder collects events delivered to a subscriber.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func newTestStore(t *testing.T, opts Options) (*Store, *eventRecorder) {
	t.Helper()
	if opts.Capabilities == nil {
		opts.Capabilities = testCapabilities()
	}
	s := NewStore(opts)
	rec := &eventRecorder{}
	s.Subscribe(rec.handle)
	return s, rec
}

func display(id string) Observation {
	return Observation{
		ID:         id,
		Name:       "Display " + id,
		Model:      "UC-Display-7",
		Online:     true,
		Power:      PowerOn,
		Playback:   PlaybackPlaying,
		Source:     SourceWebsite,
		Volume:     IntPtr(40),
		Brightness: IntPtr(70),
		CurrentURL: StringPtr("https://example.com"),
	}
}

func TestRefresh_AddsNewDevices(t *testing.T) {
	s, rec := newTestStore(t, Options{})

	events := s.Refresh([]Observation{display("a"), display("b")})
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Type != EventAdded {
			t.Errorf("event type = %s, want %s", ev.Type, EventAdded)
		}
	}
	if got := len(rec.all()); got != 2 {
		t.Errorf("subscriber received %d events, want 2", got)
	}

	d, err := s.Get("a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.Volume == nil || *d.Volume != 40 {
		t.Errorf("Volume = %v, want 40", d.Volume)
	}
}

func TestRefresh_NoChangeNoEvent(t *testing.T) {
	s, rec := newTestStore(t, Options{})
	s.Refresh([]Observation{display("a")})

	events := s.Refresh([]Observation{display("a")})
	if len(events) != 0 {
		t.Errorf("identical refresh emitted %d events: %+v", len(events), events)
	}
	if got := len(rec.all()); got != 1 {
		t.Errorf("subscriber received %d events, want 1 (only the add)", got)
	}
}

func TestRefresh_ChangedFieldsOnly(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Refresh([]Observation{display("a")})

	obs := display("a")
	obs.Volume = IntPtr(55)
	events := s.Refresh([]Observation{obs})

	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != EventStateChanged {
		t.Errorf("type = %s, want %s", ev.Type, EventStateChanged)
	}
	if len(ev.Changes) != 1 || ev.Changes[FieldVolume] != 55 {
		t.Errorf("changes = %v, want only volume=55", ev.Changes)
	}
}

func TestRefresh_OfflineAfterMisses(t *testing.T) {
	s, _ := newTestStore(t, Options{OfflineAfterMisses: 3})
	s.Refresh([]Observation{display("a"), display("b")})

	only := []Observation{display("b")}
	for i := 0; i < 2; i++ {
		if events := s.Refresh(only); len(events) != 0 {
			t.Fatalf("miss %d emitted events: %+v", i+1, events)
		}
		d, _ := s.Get("a")
		if !d.Online {
			t.Fatalf("device went offline after %d misses", i+1)
		}
	}

	events := s.Refresh(only)
	if len(events) != 1 || events[0].Type != EventOffline || events[0].DeviceID != "a" {
		t.Fatalf("third miss events = %+v, want one device_offline for a", events)
	}

	// Further misses do not repeat the transition.
	for i := 0; i < 5; i++ {
		if events := s.Refresh(only); len(events) != 0 {
			t.Fatalf("repeated offline events: %+v", events)
		}
	}

	d, err := s.Get("a")
	if err != nil {
		t.Fatalf("offline device should stay in the store: %v", err)
	}
	if d.Online {
		t.Error("device should be offline")
	}
}

func TestRefresh_ReappearanceIsStateChange(t *testing.T) {
	s, _ := newTestStore(t, Options{OfflineAfterMisses: 2})
	s.Refresh([]Observation{display("a")})
	s.Refresh(nil)
	s.Refresh(nil)

	events := s.Refresh([]Observation{display("a")})
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Type != EventStateChanged {
		t.Errorf("type = %s, want %s", events[0].Type, EventStateChanged)
	}
	if events[0].Changes[FieldOnline] != true {
		t.Errorf("changes = %v, want online=true", events[0].Changes)
	}
}

func TestRefresh_MissCounterResets(t *testing.T) {
	s, _ := newTestStore(t, Options{OfflineAfterMisses: 2})
	s.Refresh([]Observation{display("a")})
	s.Refresh(nil)
	s.Refresh([]Observation{display("a")})
	if events := s.Refresh(nil); len(events) != 0 {
		t.Errorf("miss after reset emitted %+v", events)
	}
}

func TestRefresh_ControllerReportsOffline(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Refresh([]Observation{display("a")})

	obs := display("a")
	obs.Online = false
	events := s.Refresh([]Observation{obs})
	if len(events) != 1 || events[0].Type != EventOffline {
		t.Fatalf("events = %+v, want one device_offline", events)
	}
}

func TestRefresh_RemoveAfterMisses(t *testing.T) {
	s, _ := newTestStore(t, Options{OfflineAfterMisses: 1, RemoveAfterMisses: 3})
	s.Refresh([]Observation{display("a")})

	var types []EventType
	for i := 0; i < 3; i++ {
		for _, ev := range s.Refresh(nil) {
			types = append(types, ev.Type)
		}
	}
	if len(types) != 2 || types[0] != EventOffline || types[1] != EventRemoved {
		t.Fatalf("event types = %v, want [offline removed]", types)
	}
	if _, err := s.Get("a"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Get() after removal error = %v, want ErrUnknownDevice", err)
	}
}

func TestRefresh_CapabilityGatedFields(t *testing.T) {
	s, _ := newTestStore(t, Options{})

	obs := display("cast")
	obs.Model = "UC-Cast-Pro"
	obs.Orientation = StringPtr("portraitPrim")
	s.Refresh([]Observation{obs})

	d, err := s.Get("cast")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.Brightness != nil {
		t.Errorf("Brightness = %v, want nil for a model without brightness", *d.Brightness)
	}
	if d.CurrentURL != nil {
		t.Error("CurrentURL should be nil without load_website")
	}
	if d.Orientation != nil {
		t.Error("Orientation should be nil without rotate")
	}
	if d.Volume == nil {
		t.Error("Volume should be present")
	}
}

func TestRefresh_PlaybackStoppedWhilePoweredOff(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	obs := display("a")
	obs.Power = PowerOff
	obs.Playback = PlaybackPlaying
	s.Refresh([]Observation{obs})

	d, _ := s.Get("a")
	if d.Playback != PlaybackStopped {
		t.Errorf("Playback = %s, want stopped while off", d.Playback)
	}
}

func TestRefresh_UnreportedPlaybackKeepsCurrent(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	obs := display("a")
	obs.Playback = ""
	s.Refresh([]Observation{obs})

	d, _ := s.Get("a")
	if d.Playback != PlaybackStopped {
		t.Fatalf("Playback = %s, want stopped for a new device", d.Playback)
	}

	playing := PlaybackPlaying
	if _, err := s.ApplyOptimistic("a", Patch{Playback: &playing}); err != nil {
		t.Fatalf("ApplyOptimistic() error = %v", err)
	}

	if events := s.Refresh([]Observation{obs}); len(events) != 0 {
		t.Errorf("confirming refresh emitted %+v", events)
	}
	d, _ = s.Get("a")
	if d.Playback != PlaybackPlaying {
		t.Errorf("Playback = %s, want playing kept", d.Playback)
	}

	obs.Playback = PlaybackPaused
	s.Refresh([]Observation{obs})
	d, _ = s.Get("a")
	if d.Playback != PlaybackPaused {
		t.Errorf("Playback = %s, want reported paused", d.Playback)
	}
}

func TestGet_UnknownDevice(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	if _, err := s.Get("missing"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Get() error = %v, want ErrUnknownDevice", err)
	}
}

func TestGet_SnapshotIsolation(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Refresh([]Observation{display("a")})

	d, _ := s.Get("a")
	*d.Volume = 99
	*d.CurrentURL = "https://evil.example"
	d.Name = "changed"

	again, _ := s.Get("a")
	if *again.Volume != 40 || *again.CurrentURL != "https://example.com" || again.Name != "Display a" {
		t.Errorf("store mutated through snapshot: %+v", again)
	}
}

func TestApplyOptimistic_OverwrittenByRefresh(t *testing.T) {
	s, rec := newTestStore(t, Options{})
	s.Refresh([]Observation{display("a")})

	src := SourceWebsite
	url := "https://menu.example/today"
	d, err := s.ApplyOptimistic("a", Patch{Source: &src, CurrentURL: &url})
	if err != nil {
		t.Fatalf("ApplyOptimistic() error = %v", err)
	}
	if d.CurrentURL == nil || *d.CurrentURL != url {
		t.Fatalf("CurrentURL = %v, want %s", d.CurrentURL, url)
	}
	if !d.IsUnconfirmed(FieldCurrentURL) {
		t.Error("CurrentURL should be unconfirmed")
	}

	evs := rec.all()
	last := evs[len(evs)-1]
	if last.Type != EventStateChanged || last.Changes[FieldCurrentURL] != url {
		t.Errorf("optimistic event = %+v", last)
	}

	// Controller still reports the old page: truth wins.
	s.Refresh([]Observation{display("a")})
	d, _ = s.Get("a")
	if *d.CurrentURL != "https://example.com" {
		t.Errorf("CurrentURL = %s, want controller value", *d.CurrentURL)
	}
	if len(d.Unconfirmed) != 0 {
		t.Errorf("Unconfirmed = %v, want empty after refresh", d.Unconfirmed)
	}
}

func TestApplyOptimistic_Errors(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Refresh([]Observation{display("a")})

	on := PowerOn
	if _, err := s.ApplyOptimistic("missing", Patch{Power: &on}); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("unknown device error = %v", err)
	}
	if _, err := s.ApplyOptimistic("a", Patch{}); !errors.Is(err, ErrInvalidPatch) {
		t.Errorf("empty patch error = %v", err)
	}
	if _, err := s.ApplyOptimistic("a", Patch{Volume: IntPtr(101)}); !errors.Is(err, ErrInvalidPatch) {
		t.Errorf("out of range error = %v", err)
	}
}

func TestApplyOptimistic_NoChangeNoEvent(t *testing.T) {
	s, rec := newTestStore(t, Options{})
	s.Refresh([]Observation{display("a")})

	if _, err := s.ApplyOptimistic("a", Patch{Volume: IntPtr(40)}); err != nil {
		t.Fatalf("ApplyOptimistic() error = %v", err)
	}
	if got := len(rec.all()); got != 1 {
		t.Errorf("events = %d, want 1 (only the add)", got)
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	s := NewStore(Options{Capabilities: testCapabilities()})
	rec := &eventRecorder{}
	unsubscribe := s.Subscribe(rec.handle)

	s.Refresh([]Observation{display("a")})
	unsubscribe()
	unsubscribe()
	s.Refresh([]Observation{display("b")})

	if got := len(rec.all()); got != 1 {
		t.Errorf("events = %d, want 1", got)
	}
}

func TestSubscribe_PanickingHandler(t *testing.T) {
	s := NewStore(Options{Capabilities: testCapabilities()})
	s.Subscribe(func(Event) { panic("boom") })
	rec := &eventRecorder{}
	s.Subscribe(rec.handle)

	s.Refresh([]Observation{display("a")})
	if got := len(rec.all()); got != 1 {
		t.Errorf("events = %d, want 1 despite panicking handler", got)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Refresh([]Observation{display("a"), display("b")})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			obs := display("a")
			obs.Volume = IntPtr(i * 10)
			s.Refresh([]Observation{obs, display("b")})
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _ = s.ApplyOptimistic("b", Patch{Brightness: IntPtr(i)})
		}(i)
		go func() {
			defer wg.Done()
			_ = s.List()
			_, _ = s.Get("a")
			_ = s.Stats()
		}()
	}
	wg.Wait()

	if st := s.Stats(); st.Total != 2 || st.Online != 2 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestStore_Clock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, Options{Now: func() time.Time { return fixed }})
	s.Refresh([]Observation{display("a")})

	d, _ := s.Get("a")
	if !d.LastSeen.Equal(fixed) || !d.UpdatedAt.Equal(fixed) {
		t.Errorf("timestamps = %v / %v, want %v", d.LastSeen, d.UpdatedAt, fixed)
	}
}
