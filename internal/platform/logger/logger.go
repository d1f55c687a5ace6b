package logger

import (
	"log/slog"
	"os"
)

// New returns the default structured logger for the module. Services accept a
// *slog.Logger through options, so embedders can substitute their own handler.
func New() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}
