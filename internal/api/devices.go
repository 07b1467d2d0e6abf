package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitchin999/unifi-connect-display/internal/capability"
	"github.com/hitchin999/unifi-connect-display/internal/device"
	"github.com/hitchin999/unifi-connect-display/internal/dispatch"
)

// commandSource tags commands received over HTTP in audit records.
const commandSource = "api"

// handleListDevices returns all known devices.
//
// Query parameters:
//   - online: true or false
//   - model: exact model name, e.g. UC-Display-7
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var online *bool
	if v := q.Get("online"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "online must be true or false")
			return
		}
		online = &b
	}
	model := capability.Model(q.Get("model"))

	devices := s.devices.List()
	filtered := devices[:0]
	for _, d := range devices {
		if online != nil && d.Online != *online {
			continue
		}
		if model != "" && d.Model != model {
			continue
		}
		filtered = append(filtered, d)
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": filtered, "count": len(filtered)})
}

// handleGetDevice returns one device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.devices.Get(id)
	if err != nil {
		if errors.Is(err, device.ErrUnknownDevice) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// commandRequest is the body of POST /devices/{id}/commands.
type commandRequest struct {
	ID         string            `json:"id,omitempty"`
	Action     capability.Action `json:"action"`
	Parameters map[string]any    `json:"parameters,omitempty"`
}

// commandResponse describes an accepted command.
type commandResponse struct {
	CommandID  string            `json:"command_id"`
	DeviceID   string            `json:"device_id"`
	Action     capability.Action `json:"action"`
	Status     string            `json:"status"`
	DurationMS int64             `json:"duration_ms"`
	Device     device.Device     `json:"device"`
	Result     map[string]any    `json:"result,omitempty"`
}

// handleCommand dispatches a command and waits for the controller's answer.
// Failures are mapped onto HTTP statuses by writeCommandError.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(string(req.Action)) == "" {
		writeBadRequest(w, "action is required")
		return
	}

	cmd := dispatch.Command{
		ID:         req.ID,
		DeviceID:   chi.URLParam(r, "id"),
		Action:     req.Action,
		Parameters: req.Parameters,
		Source:     commandSource,
	}
	if claims := claimsFromContext(r.Context()); claims != nil {
		cmd.UserID = claims.Subject
	}

	out, err := s.dispatcher.Dispatch(r.Context(), cmd)
	if err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, commandResponse{
		CommandID:  out.CommandID,
		DeviceID:   out.DeviceID,
		Action:     out.Action,
		Status:     "accepted",
		DurationMS: out.Duration.Milliseconds(),
		Device:     out.Device,
		Result:     out.Result,
	})
}
