package capability

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func displayEntry(model Model) Entry {
	return Entry{
		Model:        model,
		Capabilities: []Capability{CapPower, CapVolume},
		Actions: map[Action]string{
			ActionPowerOn:   "id-on",
			ActionPowerOff:  "id-off",
			ActionSetVolume: "id-vol",
		},
	}
}

func TestNewRegistry_Valid(t *testing.T) {
	reg, err := NewRegistry([]Entry{displayEntry("UC-Test")})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	caps, err := reg.CapabilitiesFor("UC-Test")
	if err != nil {
		t.Fatalf("CapabilitiesFor() error = %v", err)
	}
	if !caps.Has(CapPower) || !caps.Has(CapVolume) {
		t.Errorf("capabilities = %v, want power and volume", caps.List())
	}
	if caps.Has(CapBrightness) {
		t.Error("brightness should not be in the set")
	}

	id, err := reg.ActionIdentifierFor("UC-Test", ActionSetVolume)
	if err != nil {
		t.Fatalf("ActionIdentifierFor() error = %v", err)
	}
	if id != "id-vol" {
		t.Errorf("identifier = %q, want id-vol", id)
	}
}

func TestNewRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		wantMsg string
	}{
		{
			name:    "no models",
			entries: nil,
			wantMsg: "no models defined",
		},
		{
			name:    "empty model name",
			entries: []Entry{{Model: "  ", Capabilities: []Capability{CapReboot}, Actions: map[Action]string{ActionReboot: "x"}}},
			wantMsg: "model name is required",
		},
		{
			name:    "duplicate model",
			entries: []Entry{displayEntry("UC-A"), displayEntry("UC-A")},
			wantMsg: "duplicate model",
		},
		{
			name:    "unknown capability",
			entries: []Entry{{Model: "UC-A", Capabilities: []Capability{"teleport"}, Actions: map[Action]string{}}},
			wantMsg: `unknown capability "teleport"`,
		},
		{
			name:    "unknown action",
			entries: []Entry{{Model: "UC-A", Capabilities: []Capability{CapReboot}, Actions: map[Action]string{ActionReboot: "x", "explode": "y"}}},
			wantMsg: `unknown action "explode"`,
		},
		{
			name:    "action without capability",
			entries: []Entry{{Model: "UC-A", Capabilities: []Capability{CapReboot}, Actions: map[Action]string{ActionReboot: "x", ActionSetBrightness: "y"}}},
			wantMsg: `requires undeclared capability "brightness"`,
		},
		{
			name:    "capability missing action",
			entries: []Entry{{Model: "UC-A", Capabilities: []Capability{CapPower}, Actions: map[Action]string{ActionPowerOn: "x"}}},
			wantMsg: `missing action "power_off"`,
		},
		{
			name:    "empty identifier",
			entries: []Entry{{Model: "UC-A", Capabilities: []Capability{CapReboot}, Actions: map[Action]string{ActionReboot: " "}}},
			wantMsg: "empty identifier",
		},
		{
			name:    "duplicate identifier",
			entries: []Entry{{Model: "UC-A", Capabilities: []Capability{CapPower}, Actions: map[Action]string{ActionPowerOn: "same", ActionPowerOff: "same"}}},
			wantMsg: `identifier "same" used by both`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.entries)
			if !errors.Is(err, ErrInvalidRegistry) {
				t.Fatalf("NewRegistry() error = %v, want ErrInvalidRegistry", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestRegistry_FailsClosed(t *testing.T) {
	reg, err := NewRegistry([]Entry{displayEntry("UC-Test")})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if _, err := reg.CapabilitiesFor("UC-Unknown"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("CapabilitiesFor(unknown) error = %v, want ErrUnknownModel", err)
	}
	if _, err := reg.ActionIdentifierFor("UC-Unknown", ActionPowerOn); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("ActionIdentifierFor(unknown model) error = %v, want ErrUnknownModel", err)
	}
	if _, err := reg.ActionIdentifierFor("UC-Test", ActionSetBrightness); !errors.Is(err, ErrUnsupportedAction) {
		t.Errorf("ActionIdentifierFor(brightness) error = %v, want ErrUnsupportedAction", err)
	}
	if _, err := reg.ActionIdentifierFor("UC-Test", "self_destruct"); !errors.Is(err, ErrUnsupportedAction) {
		t.Errorf("ActionIdentifierFor(unknown action) error = %v, want ErrUnsupportedAction", err)
	}
	if reg.Supports("UC-Unknown", ActionPowerOn) {
		t.Error("unknown model should support nothing")
	}
}

func TestRegistry_DescribeReturnsCopy(t *testing.T) {
	reg, err := NewRegistry([]Entry{displayEntry("UC-Test")})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	d, err := reg.Describe("UC-Test")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	d.Actions[ActionPowerOn] = "tampered"

	id, _ := reg.ActionIdentifierFor("UC-Test", ActionPowerOn)
	if id != "id-on" {
		t.Errorf("registry mutated through Describe: identifier = %q", id)
	}
}

func TestCanonicalActions_Consistent(t *testing.T) {
	seen := make(map[Action]bool)
	for _, def := range CanonicalActions {
		if seen[def.Action] {
			t.Errorf("action %q defined twice", def.Action)
		}
		seen[def.Action] = true
		if def.WireName == "" {
			t.Errorf("action %q has no wire name", def.Action)
		}
		if !IsKnownCapability(def.Capability) {
			t.Errorf("action %q gated by unknown capability %q", def.Action, def.Capability)
		}
	}
}

func TestRegistry_ConcurrentLookups(t *testing.T) {
	reg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, m := range reg.Models() {
				for _, def := range CanonicalActions {
					_ = reg.Supports(m, def.Action)
				}
			}
		}()
	}
	wg.Wait()
}
