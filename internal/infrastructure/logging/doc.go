// Package logging provides structured logging for the capture service.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same default fields (service, version) and the same
// level names.
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
//	storeLog := logger.Component("capture")
//	storeLog.Warn("tier write failed", "tier", "device", "error", err)
//
// Never log broker passwords or InfluxDB tokens.
package logging
