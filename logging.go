package pqhybrid

import "log/slog"

// discardLogger is the default logger of every component. Callers opt in to
// logging with WithLogger, WithHarnessLogger or HandshakeConfig.Logger.
func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
