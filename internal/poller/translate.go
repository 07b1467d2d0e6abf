package poller

import (
	"math"
	"strings"

	"github.com/hitchin999/unifi-connect-display/internal/capability"
	"github.com/hitchin999/unifi-connect-display/internal/controller"
	"github.com/hitchin999/unifi-connect-display/internal/device"
)

// Translate maps a controller device record onto a store observation.
//
// Power comes from the shadow's display flag, falling back to its
// powerState string. When the controller reports neither, an online device
// is assumed to be on. A missing playbackState leaves Playback empty so the
// store keeps its last value. Levels are rounded; range clamping and
// capability gating happen in the store.
func Translate(d controller.Device) device.Observation {
	online := true
	if d.Online != nil {
		online = *d.Online
	}

	obs := device.Observation{
		ID:              d.ID,
		Name:            d.Name,
		Model:           capability.Model(d.Model),
		Online:          online,
		Power:           powerOf(d.Shadow, online),
		Playback:        playbackOf(d.Shadow.PlaybackState),
		Source:          device.Source(controller.SourceFromMode(d.Shadow.Mode)),
		Volume:          level(d.Shadow.Volume),
		Brightness:      level(d.Shadow.Brightness),
		FirmwareVersion: d.FirmwareVersion,
	}
	if obs.Name == "" {
		obs.Name = d.ID
	}
	if d.Shadow.CurrentHomePage != "" {
		obs.CurrentURL = device.StringPtr(d.Shadow.CurrentHomePage)
		if obs.Source == "" {
			obs.Source = device.SourceWebsite
		}
	}
	if name, ok := controller.OrientationFromScale(d.Shadow.Rotate); ok {
		obs.Orientation = device.StringPtr(name)
	}
	return obs
}

// TranslateAll maps every record with a usable ID.
func TranslateAll(devices []controller.Device) []device.Observation {
	out := make([]device.Observation, 0, len(devices))
	for _, d := range devices {
		if d.ID == "" {
			continue
		}
		out = append(out, Translate(d))
	}
	return out
}

func powerOf(s controller.Shadow, online bool) device.PowerState {
	if s.Display != nil {
		if *s.Display {
			return device.PowerOn
		}
		return device.PowerOff
	}
	switch strings.ToLower(strings.TrimSpace(s.PowerState)) {
	case "on", "true", "1":
		return device.PowerOn
	case "off", "false", "0", "standby", "sleep":
		return device.PowerOff
	}
	if online {
		return device.PowerOn
	}
	return device.PowerOff
}

func playbackOf(state string) device.PlaybackState {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "":
		return ""
	case "playing", "play":
		return device.PlaybackPlaying
	case "paused", "pause":
		return device.PlaybackPaused
	default:
		return device.PlaybackStopped
	}
}

func level(v *float64) *int {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return device.IntPtr(int(math.Round(math.Max(-1, math.Min(101, *v)))))
}
