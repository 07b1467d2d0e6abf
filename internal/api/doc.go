// Package api implements connectd's HTTP REST API and WebSocket event stream.
//
// This package provides:
//   - Read endpoints for devices, models, controller playlists and sites
//   - A command endpoint that runs the same dispatcher as the MQTT bridge
//   - The command audit query
//   - A WebSocket hub relaying every device store event
//   - Bearer JWT authentication with viewer/operator roles
//   - Middleware stack (metrics, request ID, logging, recovery, CORS)
//
// # Routes
//
//	GET  /metrics                          Prometheus (open)
//	GET  /api/v1/health                    health summary (open)
//	GET  /api/v1/devices                   device:read
//	GET  /api/v1/devices/{id}              device:read
//	POST /api/v1/devices/{id}/commands     device:operate
//	GET  /api/v1/models                    device:read
//	GET  /api/v1/models/{model}            device:read
//	GET  /api/v1/playlists                 device:read
//	GET  /api/v1/sites                     device:read
//	GET  /api/v1/audit                     audit:read
//	POST /api/v1/auth/ws-ticket            device:read
//	GET  /api/v1/ws                        device:read (bearer or ticket)
//
// # Security
//
// Authentication is off when security.jwt.secret is empty. Otherwise every
// protected route needs an HS256 token minted with `connectd token`.
// Browsers open the event stream with a single-use ticket so the token never
// appears in a URL.
//
// # Command errors
//
// Dispatch failures keep their dispatch code in the body and map to:
//
//	UNKNOWN_DEVICE                          404
//	UNSUPPORTED_ACTION, INVALID_PARAMETERS  422
//	DEVICE_NOT_READY                        409
//	COMMAND_REJECTED, AUTHENTICATION_FAILED 502
//	DEVICE_UNREACHABLE                      503
//	TIMEOUT                                 504
package api
