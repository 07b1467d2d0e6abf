// Package controller implements the session client for the Connect
// application hosted on a UniFi-OS style console.
//
// The client owns exactly one authenticated session (cookie jar + CSRF
// token). Every call is bounded by the configured request timeout. When the
// controller reports an expired session, the call re-authenticates once and
// repeats; concurrent callers that hit the same expiry share a single login.
//
// # Failure classes
//
//   - ErrAuthentication: credentials refused. Never retried here.
//   - ErrUnreachable: network failure, timeout or controller 5xx.
//   - ErrCommandRejected: the controller refused a command (see RejectedError).
//   - ErrSessionExpired: still unauthorised after one re-authentication.
//
// # Endpoints
//
//	POST  /api/auth/login | /api/auth | /auth                  login
//	GET   /proxy/connect/api/v2/devices?shadow=true             device list
//	GET   /proxy/connect/api/v{1,2}/displays                    device list (older)
//	POST  /proxy/connect/api/v{1,2}/.../devices/discovered      device ids (older)
//	GET   /connect/displays/devices/all/{site}/settings         device list (UI)
//	PATCH /proxy/connect/api/v2/devices/{id}/status             invoke action
//	GET   /proxy/connect/api/v2/playlists                       playlists
//	GET   /api/sites                                            sites
//	WS    /api/ws/system                                        change feed
package controller
