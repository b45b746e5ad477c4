// Package logging provides structured logging for the Kronos sync server.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the server.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("listening", "addr", cfg.Server.Addr())
//	logger.Component("engine").Error("store failed", "error", err)
//
// Task descriptions are user content; log task indexes, never payloads.
package logging
