// Package logging provides structured logging for the fish feeder client.
//
// It wraps log/slog with the handler selection, level parsing and default
// fields (service, version) configured in the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components below this package accept a narrow Logger interface
// (Debug/Info/Warn/Error) so *logging.Logger and *slog.Logger both satisfy it.
package logging
