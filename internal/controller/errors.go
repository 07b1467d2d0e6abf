package controller

import "errors"

// Domain errors for the controller package.
//
// Callers distinguish failure classes with errors.Is():
//
//	if errors.Is(err, controller.ErrAuthentication) {
//	    // credentials are wrong: stop, do not retry
//	}
var (
	// ErrAuthentication is returned when the controller refuses the credentials.
	ErrAuthentication = errors.New("controller: authentication failed")

	// ErrUnreachable is returned on network failure, timeout or a server-side
	// (5xx) controller failure.
	ErrUnreachable = errors.New("controller: unreachable")

	// ErrCommandRejected is returned when the controller refuses a command.
	ErrCommandRejected = errors.New("controller: command rejected")

	// ErrSessionExpired is returned when a request is still unauthorised after
	// one transparent re-authentication.
	ErrSessionExpired = errors.New("controller: session expired")

	// ErrUnexpectedResponse is returned when the controller answers with a
	// status or body this client cannot interpret.
	ErrUnexpectedResponse = errors.New("controller: unexpected response")

	// errEndpointMissing marks an endpoint this firmware does not serve
	// (404/405), so the next candidate endpoint should be tried.
	errEndpointMissing = errors.New("controller: endpoint not available")
)
