package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"peoplewatch/internal/api"
	"peoplewatch/internal/auth"
	"peoplewatch/internal/config"
	"peoplewatch/internal/control"
	"peoplewatch/internal/database"
	"peoplewatch/internal/pipeline"
	"peoplewatch/internal/pipeline/detectors"
	"peoplewatch/internal/pipeline/strategies"
	"peoplewatch/internal/report"
	"peoplewatch/internal/source"
	"peoplewatch/internal/stream"
	"peoplewatch/internal/tracking"
	"peoplewatch/internal/ws"
)

// Run processes one input from start to finish. It returns nil when the
// input is exhausted or the run was stopped.
func Run(ctx context.Context, s *Options, cfg *config.Config, logger *slog.Logger) error {
	if s.Input == "" {
		return errors.New("no input given")
	}

	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		return err
	}
	policy, err := strategies.Create(schedCfg)
	if err != nil {
		return err
	}

	src, err := source.Open(s.Input, source.Options{
		FPS:          cfg.GetFPS(),
		Width:        cfg.GetWidth(),
		Height:       cfg.GetHeight(),
		PollInterval: cfg.GetPollInterval(),
		MaxFrames:    s.MaxFrames,
		FFmpegPath:   cfg.GetFFmpegPath(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	detOpts := cfg.DetectorOptions()
	detOpts.Logger = logger
	detector, err := detectors.DefaultRegistry().Build(cfg.GetDetector(), detOpts)
	if err != nil {
		src.Close()
		return err
	}

	bus := pipeline.NewEventBus()
	defer bus.Close()
	bus.Subscribe(pipeline.NewLogHandler(logger))

	telemetry := report.NewTelemetry(0, schedCfg.ChangeThreshold)
	bus.Subscribe(telemetry)

	orch, err := pipeline.NewOrchestrator(src, detector, tracking.Factory(cfg.TrackerConfig()), schedCfg,
		pipeline.WithPolicy(policy),
		pipeline.WithEventBus(bus),
		pipeline.WithLogger(logger),
	)
	if err != nil {
		src.Close()
		detector.Close()
		return err
	}
	defer func() {
		if err := orch.Close(); err != nil {
			logger.Warn("failed to release run resources", "error", err)
		}
	}()

	var (
		store *database.Store
		run   *database.RunRecord
	)
	if path := cfg.GetDatabase(); path != "" {
		store, err = database.Open(path, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		run = &database.RunRecord{
			ID:        uuid.NewString(),
			Input:     s.Input,
			Detector:  detector.Name(),
			Policy:    policy.Name(),
			StartedAt: time.Now().UTC(),
		}
		if err := store.CreateRun(ctx, run); err != nil {
			return err
		}
		bus.Subscribe(database.NewSceneChangeRecorder(store, run.ID, logger))
		logger.Info("run recorded", "run_id", run.ID, "db", path)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var hub *ws.BoxHub
	serverDone := make(chan error, 1)
	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()

	if listen := cfg.GetListen(); listen != "" {
		live := stream.NewMJPEGServer(stream.NewAnnotator(), logger)
		defer live.Close()
		bus.Subscribe(live)

		hub = ws.NewBoxHub(logger)
		defer hub.Close()
		bus.Subscribe(hub)

		authenticator, err := auth.NewAuthenticator(config.AuthConfig(s.lookupEnv))
		if err != nil {
			return err
		}
		if authenticator.IsEnabled() && authenticator.JWTManager().Ephemeral() {
			logger.Warn("JWT_SECRET is not set, tokens will not survive a restart")
		}

		var debugWriter io.Writer
		if s.DebugHTTP {
			debugWriter = os.Stderr
		}
		server, err := api.NewServer(api.Deps{
			Stats:       orch,
			Detector:    detector,
			Auth:        authenticator,
			Ledger:      store,
			Stream:      live,
			Hub:         hub,
			Telemetry:   telemetry,
			Logger:      logger,
			DebugWriter: debugWriter,
		})
		if err != nil {
			return err
		}

		go func() {
			err := server.Run(serverCtx, listen)
			if err != nil {
				logger.Error("HTTP server failed", "error", err)
				stop()
			}
			serverDone <- err
		}()
	} else {
		serverDone <- nil
	}

	if !s.NoStdin {
		logger.Info("type q and enter to stop")
		go control.WatchQuit(runCtx, os.Stdin, stop, logger)
	}

	summary, runErr := orch.Run(runCtx)

	if hub != nil {
		hub.AnnounceSummary(summary)
	}
	stopServer()
	if err := <-serverDone; err != nil && runErr == nil {
		runErr = fmt.Errorf("http server: %w", err)
	}

	if store != nil {
		run.ApplySummary(summary, runErr, time.Now().UTC())
		if err := store.FinishRun(context.Background(), run); err != nil {
			logger.Error("failed to finish run record", "run_id", run.ID, "error", err)
		}
	}

	if path := cfg.GetReport(); path != "" {
		title := "peoplewatch " + filepath.Base(s.Input)
		if err := telemetry.WriteFile(path, title); err != nil {
			logger.Error("failed to write report", "path", path, "error", err)
		} else {
			logger.Info("report written", "path", path)
		}
	}

	logSummary(logger, summary)
	return runErr
}

func logSummary(logger *slog.Logger, summary *pipeline.RunSummary) {
	if summary == nil {
		return
	}
	logger.Info("run finished",
		"reason", summary.Reason,
		"frames", summary.Frames,
		"detection_passes", summary.DetectionPasses,
		"tracking_passes", summary.TrackingPasses,
		"scene_changes", summary.SceneChanges,
		"trackers_dropped", summary.TrackersDropped,
		"avg_detect_ms", fmt.Sprintf("%.2f", summary.AvgDetectMs),
		"avg_track_ms", fmt.Sprintf("%.2f", summary.AvgTrackMs),
	)
}
