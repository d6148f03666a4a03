// Package logger builds the slog loggers shared by the API binaries. All
// output is JSON with a service attribute so the api and migrate processes
// are distinguishable in aggregated logs.
package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON logger tagged with the service name.
func New(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", service)
}
