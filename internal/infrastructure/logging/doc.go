// Package logging provides structured logging for connectd.
//
// It wraps log/slog with JSON or text output, level filtering and default
// service/version fields:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	poll := logger.Component("poller")
//	poll.Warn("poll failed", "error", err)
//
// Never log controller passwords, CSRF tokens or API tokens.
package logging
