package logging

import (
	"log/slog"
	"strings"
)

// Writer is an io.Writer implementation that forwards external tool output to slog.
// It is attached to the stdout/stderr of az and kubectl child processes so their
// output shows up as structured lines in the run log.
type Writer struct {
	logger *slog.Logger
	tool   string
}

// NewWriter constructs a Writer bound to the provided logger and tool name.
func NewWriter(logger *slog.Logger, tool string) *Writer {
	return &Writer{logger: logger, tool: tool}
}

// Write logs the given bytes line by line at info level.
func (w *Writer) Write(p []byte) (int, error) {
	if w.logger != nil {
		for _, line := range strings.Split(string(p), "\n") {
			line = strings.TrimRight(line, "\r")
			if line != "" {
				w.logger.Info("tool output", "tool", w.tool, "line", line)
			}
		}
	}
	return len(p), nil
}
