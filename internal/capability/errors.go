package capability

import "errors"

// Domain errors for the capability package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, capability.ErrUnsupportedAction) {
//	    // reject without contacting the controller
//	}
var (
	// ErrUnknownModel is returned when a model is not in the registry.
	ErrUnknownModel = errors.New("capability: unknown model")

	// ErrUnsupportedAction is returned when a model's capability set does not
	// cover the requested action.
	ErrUnsupportedAction = errors.New("capability: unsupported action")

	// ErrInvalidRegistry is returned when registry data fails validation.
	ErrInvalidRegistry = errors.New("capability: invalid registry")
)
