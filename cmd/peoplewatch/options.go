package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"peoplewatch/internal/config"
	"peoplewatch/internal/pipeline"
)

// Options is the command line of the runner
type Options struct {
	Input      string
	ConfigPath string
	LogLevel   string
	DebugHTTP  bool
	NoStdin    bool
	MaxFrames  uint64

	Detector          string
	Endpoint          string
	Policy            string
	BootstrapInterval int
	FastInterval      int
	SlowInterval      int
	ChangeThreshold   uint64
	TrackWorkers      int
	FPS               int
	Listen            string
	Database          string
	Report            string

	fs        *pflag.FlagSet
	lookupEnv func(string) (string, bool)
}

// NewOptions creates options with the built-in defaults
func NewOptions() *Options {
	defaults := pipeline.DefaultSchedulerConfig()
	return &Options{
		LogLevel:          "info",
		Detector:          config.DefaultDetector,
		Endpoint:          config.DefaultDetectorEndpoint,
		Policy:            string(defaults.Policy),
		BootstrapInterval: defaults.BootstrapInterval,
		FastInterval:      defaults.FastInterval,
		SlowInterval:      defaults.SlowInterval,
		ChangeThreshold:   uint64(defaults.ChangeThreshold),
		TrackWorkers:      defaults.TrackWorkers,
		Listen:            config.DefaultListen,
		lookupEnv:         os.LookupEnv,
	}
}

// Flags returns the flag set of the runner. Only flags given explicitly
// override the config file and the environment.
func (s *Options) Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("options", pflag.ExitOnError)

	fs.StringVarP(&s.Input, "input", "i", s.Input, "Video file, device (/dev/video0), stream URL, snapshot URL or image directory.")
	fs.StringVarP(&s.ConfigPath, "config", "c", s.ConfigPath, "Path to a JSON config file.")
	fs.StringVar(&s.LogLevel, "log-level", s.LogLevel, "Log level: debug, info, warn or error. Per-frame coordinates are logged at debug.")
	fs.BoolVar(&s.DebugHTTP, "debug-http", s.DebugHTTP, "Dump HTTP requests and responses to stderr.")
	fs.BoolVar(&s.NoStdin, "no-stdin", s.NoStdin, "Do not watch stdin for the quit command.")
	fs.Uint64Var(&s.MaxFrames, "max-frames", s.MaxFrames, "Stop snapshot sources after this many frames (0 = never).")

	fs.StringVar(&s.Detector, "detector", s.Detector, "Detector backend: http, grpc or motion.")
	fs.StringVar(&s.Endpoint, "endpoint", s.Endpoint, "Inference endpoint of the http or grpc detector.")
	fs.StringVar(&s.Policy, "policy", s.Policy, "Interval policy: adaptive, fixed or continuous.")
	fs.IntVar(&s.BootstrapInterval, "bootstrap-interval", s.BootstrapInterval, "Detect interval before the first scene change estimate.")
	fs.IntVar(&s.FastInterval, "fast-interval", s.FastInterval, "Detect interval after a scene change.")
	fs.IntVar(&s.SlowInterval, "slow-interval", s.SlowInterval, "Detect interval while the scene is stable.")
	fs.Uint64Var(&s.ChangeThreshold, "change-threshold", s.ChangeThreshold, "Change score above which a frame counts as a scene change.")
	fs.IntVar(&s.TrackWorkers, "track-workers", s.TrackWorkers, "Trackers updated in parallel per frame.")
	fs.IntVar(&s.FPS, "fps", s.FPS, "Capture rate for ffmpeg and snapshot sources (0 keeps the native rate).")
	fs.StringVar(&s.Listen, "listen", s.Listen, `API and live view address; "" disables the server.`)
	fs.StringVar(&s.Database, "db", s.Database, `SQLite run ledger path; "" disables the ledger.`)
	fs.StringVar(&s.Report, "report", s.Report, "Write an HTML telemetry chart here when the run ends.")

	s.fs = fs
	return fs
}

// changed reports whether name was given on the command line
func (s *Options) changed(name string) bool {
	return s.fs != nil && s.fs.Changed(name)
}

// Config loads the config file, then applies the environment and finally
// the explicit flags
func (s *Options) Config() (*config.Config, error) {
	cfg := config.Empty()
	if s.ConfigPath != "" {
		loaded, err := config.Load(s.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv(s.lookupEnv)
	s.applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (s *Options) applyFlags(cfg *config.Config) {
	if s.changed("detector") || s.changed("endpoint") {
		if cfg.Detector == nil {
			cfg.Detector = &config.DetectorConfig{}
		}
		if s.changed("detector") {
			cfg.Detector.Name = &s.Detector
		}
		if s.changed("endpoint") {
			cfg.Detector.Endpoint = &s.Endpoint
		}
	}

	sched := cfg.Scheduler
	if sched == nil {
		sched = &pipeline.SchedulerOverrides{}
	}
	if s.changed("policy") {
		policy := pipeline.PolicyName(s.Policy)
		sched.Policy = &policy
	}
	if s.changed("bootstrap-interval") {
		sched.BootstrapInterval = &s.BootstrapInterval
	}
	if s.changed("fast-interval") {
		sched.FastInterval = &s.FastInterval
	}
	if s.changed("slow-interval") {
		sched.SlowInterval = &s.SlowInterval
	}
	if s.changed("change-threshold") {
		threshold := pipeline.ChangeScore(s.ChangeThreshold)
		sched.ChangeThreshold = &threshold
	}
	if s.changed("track-workers") {
		sched.TrackWorkers = &s.TrackWorkers
	}
	if *sched != (pipeline.SchedulerOverrides{}) {
		cfg.Scheduler = sched
	}

	if s.changed("fps") {
		if cfg.Source == nil {
			cfg.Source = &config.SourceConfig{}
		}
		cfg.Source.FPS = &s.FPS
	}
	if s.changed("listen") {
		cfg.Listen = &s.Listen
	}
	if s.changed("db") {
		cfg.Database = &s.Database
	}
	if s.changed("report") {
		cfg.Report = &s.Report
	}
}

// Level parses the log level flag
func (s *Options) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s.LogLevel, err)
	}
	return level, nil
}
