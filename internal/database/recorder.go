package database

import (
	"context"
	"log/slog"
	"time"

	"peoplewatch/internal/pipeline"
)

// SceneChangeRecorder stores every changed frame of a run
type SceneChangeRecorder struct {
	store  *Store
	runID  string
	logger *slog.Logger
}

// NewSceneChangeRecorder creates a result handler bound to runID
func NewSceneChangeRecorder(store *Store, runID string, logger *slog.Logger) *SceneChangeRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SceneChangeRecorder{store: store, runID: runID, logger: logger.With("component", "recorder")}
}

// OnFrameResult implements pipeline.ResultHandler
func (r *SceneChangeRecorder) OnFrameResult(result *pipeline.FrameResult) {
	if result == nil || !result.Changed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	at := result.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	err := r.store.SaveSceneChange(ctx, &SceneChangeRecord{
		RunID:    r.runID,
		Frame:    result.FrameCount,
		Score:    uint64(result.Score),
		Interval: result.Interval,
		Boxes:    len(result.Boxes),
		At:       at,
	})
	if err != nil {
		r.logger.Warn("failed to record scene change", "frame", result.FrameCount, "error", err)
	}
}

var _ pipeline.ResultHandler = (*SceneChangeRecorder)(nil)
