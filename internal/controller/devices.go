package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Shadow is the controller's reported state document for a device.
// Fields are pointers where absence must be distinguished from zero.
type Shadow struct {
	Display         *bool    `json:"display,omitempty"`
	PowerState      string   `json:"powerState,omitempty"`
	Volume          *float64 `json:"volume,omitempty"`
	Brightness      *float64 `json:"brightness,omitempty"`
	Mode            string   `json:"mode,omitempty"`
	CurrentHomePage string   `json:"currentHomePage,omitempty"`
	Rotate          string   `json:"rotate,omitempty"`
	PlaylistID      string   `json:"playlistId,omitempty"`
	PlaybackState   string   `json:"playbackState,omitempty"`
}

// Device is a device record as reported by the controller.
type Device struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Model           string `json:"model"`
	Online          *bool  `json:"online,omitempty"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
	IP              string `json:"ip,omitempty"`
	MAC             string `json:"mac,omitempty"`
	Shadow          Shadow `json:"shadow"`
}

// wireDevice accepts the field variants seen across controller versions.
type wireDevice struct {
	ID       string `json:"id"`
	LegacyID string `json:"_id"`
	Name     string `json:"name"`
	Alias    string `json:"alias"`
	Model    string `json:"model"`
	Type     struct {
		Name string `json:"name"`
	} `json:"type"`
	Online          *bool   `json:"online"`
	IsOnline        *bool   `json:"isOnline"`
	State           string  `json:"state"`
	FirmwareVersion string  `json:"firmwareVersion"`
	Version         string  `json:"version"`
	IP              string  `json:"ip"`
	MAC             string  `json:"mac"`
	Shadow          *Shadow `json:"shadow"`
	Settings        *Shadow `json:"settings"`
}

// UnmarshalJSON normalises the controller's device variants.
func (d *Device) UnmarshalJSON(data []byte) error {
	var w wireDevice
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	d.ID = firstNonEmpty(w.ID, w.LegacyID)
	d.Name = firstNonEmpty(w.Name, w.Alias)
	d.Model = firstNonEmpty(w.Type.Name, w.Model)
	d.FirmwareVersion = firstNonEmpty(w.FirmwareVersion, w.Version)
	d.IP = w.IP
	d.MAC = w.MAC

	switch {
	case w.Online != nil:
		d.Online = w.Online
	case w.IsOnline != nil:
		d.Online = w.IsOnline
	case w.State != "":
		online := strings.EqualFold(w.State, "online") || strings.EqualFold(w.State, "connected")
		d.Online = &online
	}

	switch {
	case w.Shadow != nil:
		d.Shadow = *w.Shadow
	case w.Settings != nil:
		d.Shadow = *w.Settings
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ListDevices returns every device the controller manages.
//
// The shadow collection endpoint is tried first. Older firmwares are served
// through the display list, discovery and site settings endpoints. A session
// expiry on any of them is handled transparently once.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	ctx, span := c.tracer.Start(ctx, "controller.ListDevices")
	defer span.End()

	sources := []struct {
		name  string
		fetch func(context.Context) ([]Device, error)
	}{
		{"shadow", c.listShadow},
		{"displays", c.listDisplays},
		{"discovered", c.listDiscovered},
		{"site-settings", c.listSiteSettings},
	}

	var lastErr error
	for _, src := range sources {
		devices, err := src.fetch(ctx)
		if err == nil {
			c.logger.Debug("listed controller devices", "source", src.name, "count", len(devices))
			return devices, nil
		}
		if !errors.Is(err, errEndpointMissing) {
			span.RecordError(err)
			return nil, err
		}
		lastErr = err
	}

	err := fmt.Errorf("%w: no device listing endpoint available (last: %v)", ErrUnexpectedResponse, lastErr) //nolint:errorlint // lastErr is informational
	span.RecordError(err)
	return nil, err
}

// getJSON performs a GET and returns the body of a 2xx response.
func (c *Client) getJSON(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.status) {
		return nil, statusError(http.MethodGet, path, resp)
	}
	return resp.body, nil
}

func (c *Client) listShadow(ctx context.Context) ([]Device, error) {
	const path = "/proxy/connect/api/v2/devices?shadow=true"
	body, err := c.getJSON(ctx, path)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrUnexpectedResponse, path, err) //nolint:errorlint // decode detail only
	}
	if envelope.Type != "" && envelope.Type != "collection" {
		return nil, fmt.Errorf("%w: %s returned type %q", ErrUnexpectedResponse, path, envelope.Type)
	}

	var devices []Device
	if err := json.Unmarshal(envelope.Data, &devices); err != nil {
		return nil, fmt.Errorf("%w: decoding %s data: %v", ErrUnexpectedResponse, path, err) //nolint:errorlint // decode detail only
	}
	return withIDs(devices), nil
}

// listDisplays reads the display list endpoints, which return either full
// objects or bare identifiers that need a settings fetch each.
func (c *Client) listDisplays(ctx context.Context) ([]Device, error) {
	var lastErr error = errEndpointMissing
	for _, path := range []string{"/proxy/connect/api/v1/displays", "/proxy/connect/api/v2/displays"} {
		body, err := c.getJSON(ctx, path)
		if err != nil {
			if errors.Is(err, errEndpointMissing) {
				lastErr = err
				continue
			}
			return nil, err
		}

		devices, ids, err := decodeDeviceList(body)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding %s: %v", ErrUnexpectedResponse, path, err) //nolint:errorlint // decode detail only
		}
		if ids != nil {
			return c.fetchSettings(ctx, ids)
		}
		return devices, nil
	}
	return nil, lastErr
}

// listDiscovered asks the discovery endpoints for device identifiers.
func (c *Client) listDiscovered(ctx context.Context) ([]Device, error) {
	site := url.PathEscape(c.cfg.Site)
	paths := []string{
		"/proxy/connect/api/v2/sites/" + site + "/devices/discovered",
		"/proxy/connect/api/v1/sites/" + site + "/devices/discovered",
		"/proxy/connect/api/v2/devices/discovered",
		"/proxy/connect/api/v1/devices/discovered",
	}

	var lastErr error = errEndpointMissing
	for _, path := range paths {
		resp, err := c.do(ctx, http.MethodPost, path, map[string]any{})
		if err != nil {
			return nil, err
		}
		if !isSuccess(resp.status) {
			lastErr = statusError(http.MethodPost, path, resp)
			if errors.Is(lastErr, errEndpointMissing) {
				continue
			}
			return nil, lastErr
		}

		var ids []string
		if err := json.Unmarshal(resp.body, &ids); err != nil {
			var envelope struct {
				Data []string `json:"data"`
			}
			if err := json.Unmarshal(resp.body, &envelope); err != nil {
				return nil, fmt.Errorf("%w: decoding %s: %v", ErrUnexpectedResponse, path, err) //nolint:errorlint // decode detail only
			}
			ids = envelope.Data
		}
		return c.fetchSettings(ctx, ids)
	}
	return nil, lastErr
}

func (c *Client) listSiteSettings(ctx context.Context) ([]Device, error) {
	path := "/connect/displays/devices/all/" + url.PathEscape(c.cfg.Site) + "/settings"
	body, err := c.getJSON(ctx, path)
	if err != nil {
		return nil, err
	}
	devices, _, err := decodeDeviceList(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrUnexpectedResponse, path, err) //nolint:errorlint // decode detail only
	}
	return devices, nil
}

// fetchSettings loads the settings document of each identified device.
// Devices whose settings cannot be found are skipped.
func (c *Client) fetchSettings(ctx context.Context, ids []string) ([]Device, error) {
	devices := make([]Device, 0, len(ids))
	for _, id := range ids {
		escaped := url.PathEscape(id)
		candidates := []string{
			"/proxy/connect/api/v2/displays/devices/" + escaped + "/settings",
			"/proxy/connect/api/v1/displays/devices/" + escaped + "/settings",
			"/connect/displays/devices/all/" + escaped + "/settings",
		}
		for _, path := range candidates {
			body, err := c.getJSON(ctx, path)
			if err != nil {
				if errors.Is(err, errEndpointMissing) || errors.Is(err, ErrUnexpectedResponse) {
					continue
				}
				return nil, err
			}
			var d Device
			if err := json.Unmarshal(body, &d); err != nil {
				continue
			}
			if d.ID == "" {
				d.ID = id
			}
			devices = append(devices, d)
			break
		}
	}
	if len(ids) > 0 && len(devices) == 0 {
		c.logger.Warn("no device settings could be fetched", "ids", len(ids))
	}
	return devices, nil
}

// decodeDeviceList decodes a JSON array of device objects, or of bare
// identifiers (returned in ids).
func decodeDeviceList(body []byte) (devices []Device, ids []string, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		var envelope struct {
			Data []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, nil, err
		}
		raw = envelope.Data
	}

	if len(raw) > 0 {
		var first string
		if json.Unmarshal(raw[0], &first) == nil {
			ids = make([]string, 0, len(raw))
			for _, r := range raw {
				var id string
				if err := json.Unmarshal(r, &id); err != nil {
					return nil, nil, err
				}
				ids = append(ids, id)
			}
			return nil, ids, nil
		}
	}

	devices = make([]Device, 0, len(raw))
	for _, r := range raw {
		var d Device
		if err := json.Unmarshal(r, &d); err != nil {
			return nil, nil, err
		}
		devices = append(devices, d)
	}
	return withIDs(devices), nil, nil
}

// withIDs drops records without an identifier.
func withIDs(devices []Device) []Device {
	out := devices[:0]
	for _, d := range devices {
		if d.ID != "" {
			out = append(out, d)
		}
	}
	return out
}
