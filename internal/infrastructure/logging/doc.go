// Package logging provides structured logging for Keystone Auth.
//
// It wraps log/slog so every component logs with the same handler, level
// and default fields (service, version).
//
// Configuration lives in the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Security
//
// Never log passwords, password hashes, tokens or signing secrets. Email
// addresses attached to failed logins go through MaskEmail.
package logging
