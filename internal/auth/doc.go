// Package auth issues and validates the bearer tokens that protect the
// HTTP API.
//
// Tokens are HS256 JWTs minted offline with `connectd token` and carry one
// of two roles:
//   - viewer: read devices, models, playlists and the event stream
//   - operator: everything a viewer can, plus commands and the audit log
//
// The role-permission mapping is static. There are no user accounts and no
// refresh tokens; a token lives until it expires or the secret rotates.
package auth
