package mcpclient

import (
	"io"
	"log/slog"
)

// NopLogger returns a logger that discards all output.
// It is the default when WithLogger is not provided.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
