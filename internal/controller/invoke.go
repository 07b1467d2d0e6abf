package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ActionRequest is the command body sent to a device's status endpoint.
type ActionRequest struct {
	// ID is the opaque action identifier from the capability registry.
	ID string `json:"id"`
	// Name is the controller's wire name for the action.
	Name string `json:"name"`
	// Args carries the action arguments; always present, possibly empty.
	Args map[string]any `json:"args"`
}

// Invoke sends an action to a device.
//
// Returns ErrCommandRejected when the controller refuses the command,
// ErrUnreachable on network failure, timeout or controller-side failure,
// and ErrSessionExpired if re-authentication did not restore access.
// The decoded response body is returned on success (nil if empty).
func (c *Client) Invoke(ctx context.Context, deviceID string, req ActionRequest) (map[string]any, error) {
	ctx, span := c.tracer.Start(ctx, "controller.Invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("connect.device_id", deviceID),
		attribute.String("connect.action", req.Name),
	)

	if req.Args == nil {
		req.Args = map[string]any{}
	}

	path := "/proxy/connect/api/v2/devices/" + url.PathEscape(deviceID) + "/status"
	resp, err := c.do(ctx, http.MethodPatch, path, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if !isSuccess(resp.status) {
		err := rejectionError(deviceID, req.Name, resp)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if len(resp.body) == 0 {
		return nil, nil
	}
	var result map[string]any
	if err := json.Unmarshal(resp.body, &result); err != nil {
		// The command was accepted; an undecodable body is not a failure.
		c.logger.Debug("ignoring undecodable action response", "device_id", deviceID, "action", req.Name)
		return nil, nil
	}
	return result, nil
}

// rejectionError maps a failed command response onto the error taxonomy.
// 5xx means the controller could not process anything and is treated as
// unreachable; any other refusal is a rejection of this command.
func rejectionError(deviceID, action string, resp *response) error {
	msg := summarizeBody(resp.body)
	if resp.status >= 500 {
		return fmt.Errorf("%w: %s on %s: controller returned %d: %s", ErrUnreachable, action, deviceID, resp.status, msg)
	}
	return &RejectedError{DeviceID: deviceID, Action: action, Status: resp.status, Message: msg}
}

// RejectedError carries the controller's reason for refusing a command.
// It matches ErrCommandRejected with errors.Is.
type RejectedError struct {
	DeviceID string
	Action   string
	Status   int
	Message  string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s on %s (status %d)", ErrCommandRejected, e.Action, e.DeviceID, e.Status)
	}
	return fmt.Sprintf("%s: %s on %s (status %d): %s", ErrCommandRejected, e.Action, e.DeviceID, e.Status, e.Message)
}

// Is reports whether target is ErrCommandRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrCommandRejected
}
