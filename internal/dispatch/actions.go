package dispatch

import (
	"context"

	"github.com/hitchin999/unifi-connect-display/internal/capability"
	"github.com/hitchin999/unifi-connect-display/internal/device"
)

// Convenience wrappers around Dispatch, one per logical action.

func (d *Dispatcher) run(ctx context.Context, deviceID string, action capability.Action, params map[string]any) (Outcome, error) {
	return d.Dispatch(ctx, Command{DeviceID: deviceID, Action: action, Parameters: params, Source: "internal"})
}

// PowerOn turns the device on.
func (d *Dispatcher) PowerOn(ctx context.Context, deviceID string) (Outcome, error) {
	return d.run(ctx, deviceID, capability.ActionPowerOn, nil)
}

// PowerOff turns the device off.
func (d *Dispatcher) PowerOff(ctx context.Context, deviceID string) (Outcome, error) {
	return d.run(ctx, deviceID, capability.ActionPowerOff, nil)
}

// Play starts playback, optionally of a signage playlist.
func (d *Dispatcher) Play(ctx context.Context, deviceID, playlistID string) (Outcome, error) {
	var params map[string]any
	if playlistID != "" {
		params = map[string]any{ParamPlaylistID: playlistID}
	}
	return d.run(ctx, deviceID, capability.ActionPlay, params)
}

// Pause pauses playback.
func (d *Dispatcher) Pause(ctx context.Context, deviceID string) (Outcome, error) {
	return d.run(ctx, deviceID, capability.ActionPause, nil)
}

// Stop stops playback.
func (d *Dispatcher) Stop(ctx context.Context, deviceID string) (Outcome, error) {
	return d.run(ctx, deviceID, capability.ActionStop, nil)
}

// SetVolume sets the volume; the level is clamped to [0, 100].
func (d *Dispatcher) SetVolume(ctx context.Context, deviceID string, level int) (Outcome, error) {
	return d.run(ctx, deviceID, capability.ActionSetVolume, map[string]any{ParamLevel: level})
}

// SetBrightness sets the brightness; the level is clamped to [0, 100].
func (d *Dispatcher) SetBrightness(ctx context.Context, deviceID string, level int) (Outcome, error) {
	return d.run(ctx, deviceID, capability.ActionSetBrightness, map[string]any{ParamLevel: level})
}

// SelectSource switches between casting and website content.
func (d *Dispatcher) SelectSource(ctx context.Context, deviceID string, source device.Source) (Outcome, error) {
	return d.run(ctx, deviceID, capability.ActionSelectSource, map[string]any{ParamSource: string(source)})
}

// LoadWebsite shows a URL on the device.
func (d *Dispatcher) LoadWebsite(ctx context.Context, deviceID, url string) (Outcome, error) {
	return d.run(ctx, deviceID, capability.ActionLoadWebsite, map[string]any{ParamURL: url})
}

// Reboot restarts the device.
func (d *Dispatcher) Reboot(ctx context.Context, deviceID string) (Outcome, error) {
	return d.run(ctx, deviceID, capability.ActionReboot, nil)
}

// Locate starts the device's identification signal.
func (d *Dispatcher) Locate(ctx context.Context, deviceID string) (Outcome, error) {
	return d.run(ctx, deviceID, capability.ActionLocate, nil)
}

// StopLocate ends the identification signal.
func (d *Dispatcher) StopLocate(ctx context.Context, deviceID string) (Outcome, error) {
	return d.run(ctx, deviceID, capability.ActionStopLocate, nil)
}

// Rotate sets the screen orientation, or cycles it when orientation is empty.
func (d *Dispatcher) Rotate(ctx context.Context, deviceID, orientation string) (Outcome, error) {
	var params map[string]any
	if orientation != "" {
		params = map[string]any{ParamOrientation: orientation}
	}
	return d.run(ctx, deviceID, capability.ActionRotate, params)
}

// Sleep puts the device to sleep.
func (d *Dispatcher) Sleep(ctx context.Context, deviceID string) (Outcome, error) {
	return d.run(ctx, deviceID, capability.ActionSleep, nil)
}

// FirmwareUpdate starts a firmware update.
func (d *Dispatcher) FirmwareUpdate(ctx context.Context, deviceID string) (Outcome, error) {
	return d.run(ctx, deviceID, capability.ActionFirmwareUpdate, nil)
}
