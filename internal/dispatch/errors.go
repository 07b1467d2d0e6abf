package dispatch

import (
	"context"
	"errors"

	"github.com/hitchin999/unifi-connect-display/internal/capability"
	"github.com/hitchin999/unifi-connect-display/internal/controller"
	"github.com/hitchin999/unifi-connect-display/internal/device"
)

// Domain errors for the dispatch package.
var (
	// ErrDeviceNotReady is returned when a device's state does not allow the
	// action, e.g. anything but power_on while it is powered off.
	ErrDeviceNotReady = errors.New("dispatch: device not ready")

	// ErrInvalidPayload is returned when command parameters do not match the
	// action's expected payload.
	ErrInvalidPayload = errors.New("dispatch: invalid payload")
)

// Error codes reported to command sources (MQTT acks, API responses).
const (
	CodeUnknownDevice     = "UNKNOWN_DEVICE"
	CodeUnsupportedAction = "UNSUPPORTED_ACTION"
	CodeDeviceNotReady    = "DEVICE_NOT_READY"
	CodeInvalidParameters = "INVALID_PARAMETERS"
	CodeCommandRejected   = "COMMAND_REJECTED"
	CodeUnreachable       = "DEVICE_UNREACHABLE"
	CodeTimeout           = "TIMEOUT"
	CodeAuthentication    = "AUTHENTICATION_FAILED"
	CodeInternal          = "INTERNAL_ERROR"
)

// ErrorCode classifies a dispatch error into a stable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrUnknownDevice):
		return CodeUnknownDevice
	case capability.IsUnsupported(err):
		return CodeUnsupportedAction
	case errors.Is(err, ErrDeviceNotReady):
		return CodeDeviceNotReady
	case errors.Is(err, ErrInvalidPayload):
		return CodeInvalidParameters
	case errors.Is(err, controller.ErrCommandRejected):
		return CodeCommandRejected
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, controller.ErrUnreachable):
		return CodeUnreachable
	case errors.Is(err, controller.ErrAuthentication), errors.Is(err, controller.ErrSessionExpired):
		return CodeAuthentication
	default:
		return CodeInternal
	}
}

// resultLabel is the short outcome name used in metrics and audit records.
func resultLabel(err error) string {
	switch ErrorCode(err) {
	case "":
		return "accepted"
	case CodeUnknownDevice, CodeUnsupportedAction, CodeDeviceNotReady, CodeInvalidParameters:
		return "invalid"
	case CodeCommandRejected:
		return "rejected"
	case CodeUnreachable, CodeTimeout:
		return "unreachable"
	default:
		return "failed"
	}
}
