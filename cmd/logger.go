package cmd

import (
	"io"
	"log/slog"

	"github.com/dusted-go/logging/prettylog"
	"github.com/go-logr/logr"
)

// NewLogger returns a human readable logger writing to w. Higher verbosity
// enables V(n) messages.
func NewLogger(verbosity int, w io.Writer) logr.Logger {
	prettyHandler := prettylog.New(&slog.HandlerOptions{
		Level:       slog.Level(verbosity * -1),
		AddSource:   false,
		ReplaceAttr: nil,
	}, prettylog.WithDestinationWriter(w))
	return logr.FromSlogHandler(prettyHandler)
}
