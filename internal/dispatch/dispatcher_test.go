package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitchin999/unifi-connect-display/internal/capability"
	"github.com/hitchin999/unifi-connect-display/internal/controller"
	"github.com/hitchin999/unifi-connect-display/internal/device"
)

// invocation is one recorded controller call.
type invocation struct {
	DeviceID string
	Request  controller.ActionRequest
}

// MockController is a test implementation of Controller.
type MockController struct {
	mu     sync.Mutex
	calls  []invocation
	err    error
	delay  time.Duration
	active map[string]int
	peak   map[string]int
}

func NewMockController() *MockController {
	return &MockController{active: make(map[string]int), peak: make(map[string]int)}
}

func (m *MockController) Invoke(ctx context.Context, deviceID string, req controller.ActionRequest) (map[string]any, error) {
	m.mu.Lock()
	m.active[deviceID]++
	if m.active[deviceID] > m.peak[deviceID] {
		m.peak[deviceID] = m.active[deviceID]
	}
	delay, err := m.delay, m.err
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active[deviceID]--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, invocation{DeviceID: deviceID, Request: req})
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (m *MockController) Calls() []invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]invocation, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockController) Peak(deviceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak[deviceID]
}

type mockRefresher struct {
	count atomic.Int32
}

func (r *mockRefresher) TriggerRefresh() { r.count.Add(1) }

type mockRecorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *mockRecorder) RecordCommand(_ context.Context, rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

type fixture struct {
	registry   *capability.Registry
	store      *device.Store
	ctrl       *MockController
	refresher  *mockRefresher
	recorder   *mockRecorder
	dispatcher *Dispatcher
}

func newFixture(t *testing.T, observations ...device.Observation) *fixture {
	t.Helper()
	reg, err := capability.LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}
	store := device.NewStore(device.Options{Capabilities: reg})
	store.Refresh(observations)

	f := &fixture{
		registry:  reg,
		store:     store,
		ctrl:      NewMockController(),
		refresher: &mockRefresher{},
		recorder:  &mockRecorder{},
	}
	f.dispatcher, err = New(Options{
		Registry:     reg,
		Store:        store,
		Controller:   f.ctrl,
		Refresher:    f.refresher,
		Recorders:    []Recorder{f.recorder},
		ConfirmDelay: -1,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func observation(id string, model capability.Model, power device.PowerState) device.Observation {
	return device.Observation{
		ID:         id,
		Name:       id,
		Model:      model,
		Online:     true,
		Power:      power,
		Playback:   device.PlaybackStopped,
		Source:     device.SourceWebsite,
		Volume:     device.IntPtr(20),
		Brightness: device.IntPtr(50),
		CurrentURL: device.StringPtr("https://example.com"),
	}
}

// paramsFor returns valid parameters for an action.
func paramsFor(action capability.Action) map[string]any {
	switch action {
	case capability.ActionSetVolume, capability.ActionSetBrightness:
		return map[string]any{ParamLevel: 30}
	case capability.ActionLoadWebsite:
		return map[string]any{ParamURL: "https://menu.example"}
	case capability.ActionSelectSource:
		return map[string]any{ParamSource: "cast"}
	case capability.ActionRotate:
		return map[string]any{ParamOrientation: "portrait"}
	default:
		return nil
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without dependencies should fail")
	}
}

func TestDispatch_UnsupportedActionsNeverReachController(t *testing.T) {
	reg, err := capability.LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}

	var observations []device.Observation
	for _, m := range reg.Models() {
		observations = append(observations, observation(string(m), m, device.PowerOn))
	}
	f := newFixture(t, observations...)

	checked := 0
	for _, m := range reg.Models() {
		for _, def := range capability.CanonicalActions {
			if reg.Supports(m, def.Action) {
				continue
			}
			checked++
			_, err := f.dispatcher.Dispatch(context.Background(), Command{
				DeviceID: string(m), Action: def.Action, Parameters: paramsFor(def.Action),
			})
			if !errors.Is(err, capability.ErrUnsupportedAction) {
				t.Errorf("%s %s: error = %v, want ErrUnsupportedAction", m, def.Action, err)
			}
		}
	}
	if checked == 0 {
		t.Fatal("default registry has no unsupported pairs to check")
	}
	if calls := f.ctrl.Calls(); len(calls) != 0 {
		t.Errorf("controller received %d calls, want 0", len(calls))
	}
}

func TestDispatch_UnknownActionIsUnsupported(t *testing.T) {
	f := newFixture(t, observation("d1", "UC-Display-7", device.PowerOn))
	_, err := f.dispatcher.Dispatch(context.Background(), Command{DeviceID: "d1", Action: "self_destruct"})
	if !errors.Is(err, capability.ErrUnsupportedAction) {
		t.Errorf("error = %v, want ErrUnsupportedAction", err)
	}
}

func TestDispatch_PoweredOffOnlyAcceptsPowerOn(t *testing.T) {
	f := newFixture(t, observation("d1", "UC-Display-7", device.PowerOff))
	ctx := context.Background()

	for _, def := range capability.CanonicalActions {
		if def.Action == capability.ActionPowerOn {
			continue
		}
		_, err := f.dispatcher.Dispatch(ctx, Command{DeviceID: "d1", Action: def.Action, Parameters: paramsFor(def.Action)})
		if !errors.Is(err, ErrDeviceNotReady) {
			t.Errorf("%s on powered-off device: error = %v, want ErrDeviceNotReady", def.Action, err)
		}
	}
	if calls := f.ctrl.Calls(); len(calls) != 0 {
		t.Fatalf("controller received %d calls before power_on", len(calls))
	}

	out, err := f.dispatcher.PowerOn(ctx, "d1")
	if err != nil {
		t.Fatalf("PowerOn() error = %v", err)
	}
	if out.Device.Power != device.PowerOn {
		t.Errorf("Power = %s, want on", out.Device.Power)
	}
	if !out.Device.IsUnconfirmed(device.FieldPower) {
		t.Error("power should be unconfirmed until the next poll")
	}

	// Once on, other actions are accepted.
	if _, err := f.dispatcher.Play(ctx, "d1", ""); err != nil {
		t.Errorf("Play() after power on error = %v", err)
	}
}

func TestDispatch_LevelClamping(t *testing.T) {
	tests := []struct {
		name  string
		level any
		want  int
	}{
		{"above range", 150, 100},
		{"below range", -5, 0},
		{"fraction rounds", 42.6, 43},
		{"string number", "17", 17},
		{"huge float", 1e12, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, observation("d1", "UC-Display-7", device.PowerOn))
			out, err := f.dispatcher.Dispatch(context.Background(), Command{
				DeviceID: "d1", Action: capability.ActionSetVolume, Parameters: map[string]any{ParamLevel: tt.level},
			})
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}

			calls := f.ctrl.Calls()
			if len(calls) != 1 {
				t.Fatalf("calls = %d, want 1", len(calls))
			}
			if got := calls[0].Request.Args["value"]; got != tt.want {
				t.Errorf("controller value = %v, want %d", got, tt.want)
			}
			if calls[0].Request.Name != "volume" {
				t.Errorf("wire name = %q, want volume", calls[0].Request.Name)
			}
			if out.Device.Volume == nil || *out.Device.Volume != tt.want {
				t.Errorf("optimistic volume = %v, want %d", out.Device.Volume, tt.want)
			}
		})
	}
}

func TestDispatch_InvalidPayloads(t *testing.T) {
	tests := []struct {
		name   string
		action capability.Action
		params map[string]any
	}{
		{"missing level", capability.ActionSetVolume, nil},
		{"level not a number", capability.ActionSetBrightness, map[string]any{ParamLevel: "loud"}},
		{"level wrong type", capability.ActionSetBrightness, map[string]any{ParamLevel: true}},
		{"empty url", capability.ActionLoadWebsite, map[string]any{ParamURL: "  "}},
		{"missing url", capability.ActionLoadWebsite, nil},
		{"relative url", capability.ActionLoadWebsite, map[string]any{ParamURL: "/menu"}},
		{"ftp url", capability.ActionLoadWebsite, map[string]any{ParamURL: "ftp://files.example"}},
		{"bad source", capability.ActionSelectSource, map[string]any{ParamSource: "hdmi"}},
		{"bad orientation", capability.ActionRotate, map[string]any{ParamOrientation: "diagonal"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, observation("d1", "UC-Display-7", device.PowerOn))
			_, err := f.dispatcher.Dispatch(context.Background(), Command{DeviceID: "d1", Action: tt.action, Parameters: tt.params})
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("error = %v, want ErrInvalidPayload", err)
			}
			if len(f.ctrl.Calls()) != 0 {
				t.Error("invalid payload reached the controller")
			}
		})
	}
}

func TestDispatch_CastProBrightnessUnsupported(t *testing.T) {
	f := newFixture(t, observation("cast", "UC-Cast-Pro", device.PowerOn))
	_, err := f.dispatcher.SetBrightness(context.Background(), "cast", 60)
	if !errors.Is(err, capability.ErrUnsupportedAction) {
		t.Fatalf("SetBrightness() error = %v, want ErrUnsupportedAction", err)
	}
	if len(f.ctrl.Calls()) != 0 {
		t.Error("controller must not be contacted")
	}
}

func TestDispatch_LoadWebsiteOptimisticThenConfirmed(t *testing.T) {
	f := newFixture(t, observation("d1", "UC-Display-7", device.PowerOn))
	const page = "https://menu.example/today"

	out, err := f.dispatcher.LoadWebsite(context.Background(), "d1", page)
	if err != nil {
		t.Fatalf("LoadWebsite() error = %v", err)
	}

	calls := f.ctrl.Calls()
	if len(calls) != 1 || calls[0].Request.Args["url"] != page || calls[0].Request.Name != "load_website" {
		t.Fatalf("controller calls = %+v", calls)
	}
	wantID, _ := f.registry.ActionIdentifierFor("UC-Display-7", capability.ActionLoadWebsite)
	if calls[0].Request.ID != wantID {
		t.Errorf("action id = %q, want %q", calls[0].Request.ID, wantID)
	}

	if out.Device.CurrentURL == nil || *out.Device.CurrentURL != page {
		t.Fatalf("optimistic CurrentURL = %v, want %s", out.Device.CurrentURL, page)
	}
	snap, _ := f.store.Get("d1")
	if !snap.IsUnconfirmed(device.FieldCurrentURL) {
		t.Error("CurrentURL should be unconfirmed")
	}

	// The next poll reports what the controller actually shows.
	confirmed := observation("d1", "UC-Display-7", device.PowerOn)
	confirmed.CurrentURL = device.StringPtr(page)
	f.store.Refresh([]device.Observation{confirmed})

	snap, _ = f.store.Get("d1")
	if *snap.CurrentURL != page || snap.IsUnconfirmed(device.FieldCurrentURL) {
		t.Errorf("after refresh: CurrentURL = %s, unconfirmed = %v", *snap.CurrentURL, snap.Unconfirmed)
	}
}

func TestDispatch_SelectSourceAndRotateArgs(t *testing.T) {
	f := newFixture(t, observation("d1", "UC-Display-7", device.PowerOn))
	ctx := context.Background()

	if _, err := f.dispatcher.SelectSource(ctx, "d1", device.SourceCast); err != nil {
		t.Fatalf("SelectSource() error = %v", err)
	}
	if _, err := f.dispatcher.Rotate(ctx, "d1", "portrait_flipped"); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	calls := f.ctrl.Calls()
	if calls[0].Request.Name != "switch" || calls[0].Request.Args["mode"] != "cast" {
		t.Errorf("select_source request = %+v", calls[0].Request)
	}
	if calls[1].Request.Name != "rotate" || calls[1].Request.Args["scale"] != "portraitSec" {
		t.Errorf("rotate request = %+v", calls[1].Request)
	}

	snap, _ := f.store.Get("d1")
	if snap.Source != device.SourceCast {
		t.Errorf("Source = %s, want cast", snap.Source)
	}
	if snap.CurrentURL != nil {
		t.Error("CurrentURL must be absent while casting")
	}
	if snap.Orientation == nil || *snap.Orientation != "portrait_flipped" {
		t.Errorf("Orientation = %v", snap.Orientation)
	}
}

func TestDispatch_SerializedPerDevice(t *testing.T) {
	f := newFixture(t,
		observation("d1", "UC-Display-7", device.PowerOn),
		observation("d2", "UC-Display-7", device.PowerOn),
	)
	f.ctrl.delay = 30 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		for _, id := range []string{"d1", "d2"} {
			wg.Add(1)
			go func(id string, level int) {
				defer wg.Done()
				if _, err := f.dispatcher.SetVolume(context.Background(), id, level); err != nil {
					t.Errorf("SetVolume(%s) error = %v", id, err)
				}
			}(id, i*10)
		}
	}
	wg.Wait()

	for _, id := range []string{"d1", "d2"} {
		if peak := f.ctrl.Peak(id); peak != 1 {
			t.Errorf("peak concurrent commands for %s = %d, want 1", id, peak)
		}
	}
	if got := len(f.ctrl.Calls()); got != 10 {
		t.Errorf("calls = %d, want 10", got)
	}
	if n := f.dispatcher.locks.size(); n != 0 {
		t.Errorf("lock table holds %d entries after completion", n)
	}
}

func TestDispatch_WaitHonoursContext(t *testing.T) {
	f := newFixture(t, observation("d1", "UC-Display-7", device.PowerOn))
	f.ctrl.delay = 200 * time.Millisecond

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = f.dispatcher.Reboot(context.Background(), "d1")
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := f.dispatcher.Locate(ctx, "d1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
	if ErrorCode(err) != CodeTimeout {
		t.Errorf("ErrorCode() = %s, want %s", ErrorCode(err), CodeTimeout)
	}
}

func TestDispatch_RejectedLeavesStateAndRefreshes(t *testing.T) {
	f := newFixture(t, observation("d1", "UC-Display-7", device.PowerOn))
	f.ctrl.err = &controller.RejectedError{DeviceID: "d1", Action: "volume", Status: 400, Message: "busy"}
	before, _ := f.store.Get("d1")

	_, err := f.dispatcher.SetVolume(context.Background(), "d1", 90)
	if !errors.Is(err, controller.ErrCommandRejected) {
		t.Fatalf("error = %v, want ErrCommandRejected", err)
	}

	after, _ := f.store.Get("d1")
	if *after.Volume != *before.Volume || len(after.Unconfirmed) != 0 {
		t.Errorf("store changed after rejection: %+v", after)
	}
	if got := f.refresher.count.Load(); got != 1 {
		t.Errorf("refresh requests = %d, want 1", got)
	}
}

func TestDispatch_UnreachableLeavesState(t *testing.T) {
	f := newFixture(t, observation("d1", "UC-Display-7", device.PowerOn))
	f.ctrl.err = fmt.Errorf("%w: connection refused", controller.ErrUnreachable)

	_, err := f.dispatcher.PowerOff(context.Background(), "d1")
	if !errors.Is(err, controller.ErrUnreachable) {
		t.Fatalf("error = %v, want ErrUnreachable", err)
	}
	after, _ := f.store.Get("d1")
	if after.Power != device.PowerOn {
		t.Errorf("Power = %s, want unchanged on", after.Power)
	}
	if got := f.refresher.count.Load(); got != 0 {
		t.Errorf("refresh requests = %d, want 0", got)
	}
}

func TestDispatch_UnknownDevice(t *testing.T) {
	f := newFixture(t)
	_, err := f.dispatcher.PowerOn(context.Background(), "ghost")
	if !errors.Is(err, device.ErrUnknownDevice) {
		t.Errorf("error = %v, want ErrUnknownDevice", err)
	}
	_, err = f.dispatcher.Dispatch(context.Background(), Command{Action: capability.ActionPowerOn})
	if !errors.Is(err, device.ErrUnknownDevice) {
		t.Errorf("empty device id error = %v, want ErrUnknownDevice", err)
	}
}

func TestDispatch_ConfirmingRefresh(t *testing.T) {
	reg, _ := capability.LoadDefault()
	store := device.NewStore(device.Options{Capabilities: reg})
	store.Refresh([]device.Observation{observation("d1", "UC-Display-7", device.PowerOn)})
	refresher := &mockRefresher{}

	d, err := New(Options{
		Registry: reg, Store: store, Controller: NewMockController(),
		Refresher: refresher, ConfirmDelay: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := d.Stop(context.Background(), "d1"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for refresher.count.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if refresher.count.Load() != 1 {
		t.Errorf("confirming refresh requests = %d, want 1", refresher.count.Load())
	}
}

func TestDispatch_RecordsEveryCommand(t *testing.T) {
	f := newFixture(t, observation("d1", "UC-Display-7", device.PowerOn))
	ctx := context.Background()

	_, _ = f.dispatcher.Pause(ctx, "d1")
	_, _ = f.dispatcher.Dispatch(ctx, Command{ID: "cmd-2", DeviceID: "d1", Action: capability.ActionLoadWebsite})

	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	if len(f.recorder.records) != 2 {
		t.Fatalf("records = %d, want 2", len(f.recorder.records))
	}
	first, second := f.recorder.records[0], f.recorder.records[1]
	if first.Result() != "accepted" || first.Command.ID == "" {
		t.Errorf("first record = %+v", first)
	}
	if second.Result() != "invalid" || second.ErrorCode() != CodeInvalidParameters || second.Outcome.CommandID != "cmd-2" {
		t.Errorf("second record result = %s code = %s", second.Result(), second.ErrorCode())
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("x: %w", device.ErrUnknownDevice), CodeUnknownDevice},
		{capability.ErrUnsupportedAction, CodeUnsupportedAction},
		{capability.ErrUnknownModel, CodeUnsupportedAction},
		{ErrDeviceNotReady, CodeDeviceNotReady},
		{ErrInvalidPayload, CodeInvalidParameters},
		{&controller.RejectedError{Status: 422}, CodeCommandRejected},
		{controller.ErrUnreachable, CodeUnreachable},
		{context.DeadlineExceeded, CodeTimeout},
		{controller.ErrAuthentication, CodeAuthentication},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
