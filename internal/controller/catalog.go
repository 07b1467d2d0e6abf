package controller

import (
	"context"
	"encoding/json"
	"fmt"
)

// Playlist is a signage playlist defined on the controller.
type Playlist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Site is a controller site.
type Site struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Desc string `json:"desc,omitempty"`
}

// ListPlaylists returns the signage playlists usable with the play action.
func (c *Client) ListPlaylists(ctx context.Context) ([]Playlist, error) {
	const path = "/proxy/connect/api/v2/playlists"
	body, err := c.getJSON(ctx, path)
	if err != nil {
		return nil, err
	}

	var playlists []Playlist
	if err := decodeCollection(body, &playlists); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrUnexpectedResponse, path, err) //nolint:errorlint // decode detail only
	}
	return playlists, nil
}

// ListSites returns the sites known to the console.
func (c *Client) ListSites(ctx context.Context) ([]Site, error) {
	const path = "/api/sites"
	body, err := c.getJSON(ctx, path)
	if err != nil {
		return nil, err
	}

	var sites []Site
	if err := decodeCollection(body, &sites); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrUnexpectedResponse, path, err) //nolint:errorlint // decode detail only
	}
	return sites, nil
}

// decodeCollection accepts either a bare JSON array or a {"data": [...]}
// envelope.
func decodeCollection(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err == nil {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return err
	}
	if len(envelope.Data) == 0 {
		return fmt.Errorf("missing data field")
	}
	return json.Unmarshal(envelope.Data, out)
}
