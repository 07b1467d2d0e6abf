package dispatch

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitchin999/unifi-connect-display/internal/capability"
	"github.com/hitchin999/unifi-connect-display/internal/controller"
	"github.com/hitchin999/unifi-connect-display/internal/device"
)

// Parameter keys accepted in Command.Parameters.
const (
	ParamLevel       = "level"
	ParamURL         = "url"
	ParamSource      = "source"
	ParamOrientation = "orientation"
	ParamPlaylistID  = "playlist_id"
)

// prepared is a validated command ready for the controller.
type prepared struct {
	args  map[string]any
	patch device.Patch
}

// prepare validates parameters against the action's payload kind and builds
// the controller arguments plus the optimistic patch for a success.
func prepare(def capability.ActionDef, params map[string]any) (prepared, error) {
	p := prepared{args: map[string]any{}}

	switch def.Payload {
	case capability.PayloadNone:

	case capability.PayloadLevel:
		level, err := levelParam(params)
		if err != nil {
			return prepared{}, err
		}
		p.args["value"] = level
		if def.Capability == capability.CapVolume {
			p.patch.Volume = device.IntPtr(level)
		} else {
			p.patch.Brightness = device.IntPtr(level)
		}

	case capability.PayloadURL:
		raw, ok := stringParam(params, ParamURL)
		if !ok || raw == "" {
			return prepared{}, fmt.Errorf("%w: %s requires a non-empty %q", ErrInvalidPayload, def.Action, ParamURL)
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return prepared{}, fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrInvalidPayload, raw)
		}
		p.args["url"] = raw
		src := device.SourceWebsite
		p.patch.Source = &src
		p.patch.CurrentURL = device.StringPtr(raw)

	case capability.PayloadSource:
		raw, _ := stringParam(params, ParamSource)
		src := device.Source(strings.ToLower(raw))
		mode, ok := controller.SourceMode(string(src))
		if !ok || !device.ValidSource(src) {
			return prepared{}, fmt.Errorf("%w: source must be %q or %q, got %q", ErrInvalidPayload, device.SourceCast, device.SourceWebsite, raw)
		}
		p.args["mode"] = mode
		p.patch.Source = &src

	case capability.PayloadOrientation:
		raw, ok := stringParam(params, ParamOrientation)
		if ok && raw != "" {
			scale, valid := controller.OrientationScale(raw)
			if !valid {
				return prepared{}, fmt.Errorf("%w: unknown orientation %q", ErrInvalidPayload, raw)
			}
			p.args["scale"] = scale
			name, _ := controller.OrientationFromScale(scale)
			p.patch.Orientation = device.StringPtr(name)
		}

	case capability.PayloadPlaylist:
		if id, ok := stringParam(params, ParamPlaylistID); ok && id != "" {
			p.args["playlistId"] = id
		}

	default:
		return prepared{}, fmt.Errorf("%w: unhandled payload kind for %s", ErrInvalidPayload, def.Action)
	}

	addStatePatch(def.Action, &p.patch)
	return p, nil
}

// addStatePatch sets the optimistic power and playback effects of an action.
func addStatePatch(action capability.Action, patch *device.Patch) {
	var power *device.PowerState
	var playback *device.PlaybackState

	switch action {
	case capability.ActionPowerOn:
		v := device.PowerOn
		power = &v
	case capability.ActionPowerOff:
		v := device.PowerOff
		power = &v
	case capability.ActionPlay:
		v := device.PlaybackPlaying
		playback = &v
	case capability.ActionPause:
		v := device.PlaybackPaused
		playback = &v
	case capability.ActionStop:
		v := device.PlaybackStopped
		playback = &v
	}

	if power != nil {
		patch.Power = power
	}
	if playback != nil {
		patch.Playback = playback
	}
}

// levelParam reads an integer percentage. Fractions are rounded and the
// result is clamped to [0, 100].
func levelParam(params map[string]any) (int, error) {
	var raw any
	for _, key := range []string{ParamLevel, "value"} {
		if v, ok := params[key]; ok {
			raw = v
			break
		}
	}
	if raw == nil {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidPayload, ParamLevel)
	}

	var f float64
	switch v := raw.(type) {
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: level %q is not a number", ErrInvalidPayload, v)
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: level %q is not a number", ErrInvalidPayload, v)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: level has type %T", ErrInvalidPayload, raw)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: level is not finite", ErrInvalidPayload)
	}
	return ClampLevel(int(math.Round(math.Max(-1, math.Min(101, f))))), nil
}

// ClampLevel clamps a percentage into [0, 100].
func ClampLevel(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(s), true
}
