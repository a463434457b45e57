// Package logging provides structured logging for secbot services.
//
// This package wraps Go's standard log/slog package so that every
// service on the device writes records in the same shape.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Append-only file output for the device's persistent access log
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  file: "/var/log/queeriouslabs/acl.log"
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "authorizer", version)
//	defer logger.Close()
//	logger.Info("acl loaded", "rfids", 42)
//
// # Security
//
// Badge identifiers are logged for the access trail; never log MQTT or
// InfluxDB credentials.
package logging
