package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrUnknownDevice) {
//	    // handle not found case
//	}
var (
	// ErrUnknownDevice is returned when a device ID is not in the store.
	ErrUnknownDevice = errors.New("device: unknown device")

	// ErrInvalidPatch is returned when an optimistic patch carries no fields
	// or out-of-range values.
	ErrInvalidPatch = errors.New("device: invalid patch")
)
