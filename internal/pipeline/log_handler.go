package pipeline

import (
	"context"
	"log/slog"
	"strings"
)

// LogHandler writes the boxes of every frame to a logger at debug level
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler creates a result handler that logs box coordinates
func NewLogHandler(logger *slog.Logger) *LogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHandler{logger: logger.With("component", "boxes")}
}

// OnFrameResult implements ResultHandler
func (h *LogHandler) OnFrameResult(result *FrameResult) {
	if !h.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	coords := make([]string, 0, len(result.Boxes))
	for _, b := range result.Boxes {
		coords = append(coords, b.Box.String())
	}

	msg := "tracked human coordinates"
	if result.State == StateDetecting {
		msg = "detected human coordinates"
	}
	h.logger.Debug(msg,
		"frame", result.FrameCount,
		"state", result.State.String(),
		"interval", result.Interval,
		"boxes", "["+strings.Join(coords, ", ")+"]")
}

var _ ResultHandler = (*LogHandler)(nil)
