// Package logging builds the process logger.
//
// LOG_LEVEL selects debug, info, warn or error (default info). LOG_FORMAT
// selects json (default) or text. Call sites use the slog package-level
// functions after main installs the logger with slog.SetDefault.
//
//	logger := logging.NewLogger()
//	slog.SetDefault(logger)
package logging
