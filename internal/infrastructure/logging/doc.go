// Package logging provides structured logging for the Yunmao bridge.
//
// It wraps log/slog with JSON or text output, level filtering and default
// service/version fields on every entry.
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
//	logger := logging.New(cfg.Logging, version)
//	engineLog := logger.Component("gateway")
//	engineLog.Info("push listener started", "address", ":21688")
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
