// Package config loads the runner configuration from a JSON file and the
// environment. Every field is optional; Get* methods supply defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"peoplewatch/internal/auth"
	"peoplewatch/internal/motion"
	"peoplewatch/internal/pipeline"
	"peoplewatch/internal/pipeline/detectors"
	"peoplewatch/internal/pipeline/strategies"
	"peoplewatch/internal/tracking"
)

const maxFileSize = 1 * 1024 * 1024

// Defaults for fields outside the scheduler
const (
	DefaultDetector         = detectors.NameHTTP
	DefaultDetectorEndpoint = "http://localhost:8081"
	DefaultConfThreshold    = 0.5
	DefaultDetectorTimeout  = 10 * time.Second
	DefaultListen           = ":8080"
)

// Environment variables read by ApplyEnv and AuthConfig
const (
	EnvDetectorEndpoint = "PEOPLEWATCH_DETECTOR_ENDPOINT"
	EnvDetector         = "PEOPLEWATCH_DETECTOR"
	EnvDBPath           = "PEOPLEWATCH_DB"
	EnvListen           = "PEOPLEWATCH_LISTEN"
	EnvAuthEnabled      = "AUTH_ENABLED"
	EnvAuthUsername     = "AUTH_USERNAME"
	EnvAuthPassword     = "AUTH_PASSWORD"
	EnvJWTSecret        = "JWT_SECRET"
	EnvJWTExpiry        = "JWT_EXPIRY"
)

// Config is the root of the JSON configuration file
type Config struct {
	Scheduler *pipeline.SchedulerOverrides `json:"scheduler,omitempty"`
	Detector  *DetectorConfig              `json:"detector,omitempty"`
	Tracker   *TrackerConfig               `json:"tracker,omitempty"`
	Motion    *MotionConfig                `json:"motion,omitempty"`
	Source    *SourceConfig                `json:"source,omitempty"`

	Listen   *string `json:"listen,omitempty"`  // API server address; "" disables it
	Database *string `json:"database,omitempty"` // Run ledger path; "" disables it
	Report   *string `json:"report,omitempty"`   // Telemetry chart output path
}

// DetectorConfig selects and configures the detector backend
type DetectorConfig struct {
	Name          *string  `json:"name,omitempty"`
	Endpoint      *string  `json:"endpoint,omitempty"`
	ConfThreshold *float64 `json:"conf_threshold,omitempty"`
	Timeout       *string  `json:"timeout,omitempty"` // duration string like "5s"
}

// TrackerConfig tunes the template tracker
type TrackerConfig struct {
	SearchRadius *int     `json:"search_radius,omitempty"`
	MinScore     *float64 `json:"min_score,omitempty"`
	MaxSamples   *int     `json:"max_samples,omitempty"`
	LearningRate *float64 `json:"learning_rate,omitempty"`
}

// MotionConfig tunes the motion blob detector
type MotionConfig struct {
	MaxWidth        *int     `json:"max_width,omitempty"`
	PixelThreshold  *int     `json:"pixel_threshold,omitempty"`
	MinAreaFraction *float64 `json:"min_area_fraction,omitempty"`
	MinAspect       *float64 `json:"min_aspect,omitempty"`
	DilateRadius    *int     `json:"dilate_radius,omitempty"`
}

// SourceConfig tunes frame capture
type SourceConfig struct {
	FPS          *int    `json:"fps,omitempty"`
	Width        *int    `json:"width,omitempty"`
	Height       *int    `json:"height,omitempty"`
	PollInterval *string `json:"poll_interval,omitempty"`
	FFmpegPath   *string `json:"ffmpeg_path,omitempty"`
}

// Empty returns a config with every field unset
func Empty() *Config {
	return &Config{}
}

// Load reads and validates a JSON config file. Omitted fields keep their
// defaults, so partial files are fine.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. lookup is
// os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDetectorEndpoint); ok && v != "" {
		c.detector().Endpoint = &v
	}
	if v, ok := lookup(EnvDetector); ok && v != "" {
		c.detector().Name = &v
	}
	if v, ok := lookup(EnvDBPath); ok {
		c.Database = &v
	}
	if v, ok := lookup(EnvListen); ok {
		c.Listen = &v
	}
}

func (c *Config) detector() *DetectorConfig {
	if c.Detector == nil {
		c.Detector = &DetectorConfig{}
	}
	return c.Detector
}

// Validate checks every set field
func (c *Config) Validate() error {
	if _, err := c.SchedulerConfig(); err != nil {
		return err
	}

	if d := c.Detector; d != nil {
		if d.Name != nil && !isKnownDetector(*d.Name) {
			return fmt.Errorf("unknown detector %q (available: %v)", *d.Name, detectors.DefaultRegistry().Names())
		}
		if d.ConfThreshold != nil && (*d.ConfThreshold < 0 || *d.ConfThreshold > 1) {
			return fmt.Errorf("detector.conf_threshold must be between 0 and 1, got %v", *d.ConfThreshold)
		}
		if d.Timeout != nil {
			if t, err := time.ParseDuration(*d.Timeout); err != nil || t <= 0 {
				return fmt.Errorf("detector.timeout must be a positive duration, got %q", *d.Timeout)
			}
		}
	}

	if t := c.Tracker; t != nil {
		if t.SearchRadius != nil && *t.SearchRadius < 1 {
			return fmt.Errorf("tracker.search_radius must be positive, got %d", *t.SearchRadius)
		}
		if t.MinScore != nil && (*t.MinScore < -1 || *t.MinScore > 1) {
			return fmt.Errorf("tracker.min_score must be between -1 and 1, got %v", *t.MinScore)
		}
		if t.MaxSamples != nil && *t.MaxSamples < 2 {
			return fmt.Errorf("tracker.max_samples must be at least 2, got %d", *t.MaxSamples)
		}
		if t.LearningRate != nil && (*t.LearningRate < 0 || *t.LearningRate > 1) {
			return fmt.Errorf("tracker.learning_rate must be between 0 and 1, got %v", *t.LearningRate)
		}
	}

	if m := c.Motion; m != nil {
		if m.PixelThreshold != nil && (*m.PixelThreshold < 0 || *m.PixelThreshold > 254) {
			return fmt.Errorf("motion.pixel_threshold must be between 0 and 254, got %d", *m.PixelThreshold)
		}
		if m.MaxWidth != nil && *m.MaxWidth < 8 {
			return fmt.Errorf("motion.max_width must be at least 8, got %d", *m.MaxWidth)
		}
	}

	if s := c.Source; s != nil {
		if s.FPS != nil && *s.FPS < 0 {
			return fmt.Errorf("source.fps must not be negative, got %d", *s.FPS)
		}
		if s.PollInterval != nil {
			if _, err := time.ParseDuration(*s.PollInterval); err != nil {
				return fmt.Errorf("source.poll_interval: %w", err)
			}
		}
	}

	return nil
}

func isKnownDetector(name string) bool {
	for _, n := range detectors.DefaultRegistry().Names() {
		if n == name {
			return true
		}
	}
	return false
}

// SchedulerConfig merges the scheduler section over the defaults
func (c *Config) SchedulerConfig() (*pipeline.SchedulerConfig, error) {
	merged := c.Scheduler.MergeWith(pipeline.DefaultSchedulerConfig())
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	if _, err := strategies.Create(merged); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	return merged, nil
}

// GetDetector returns the detector backend name
func (c *Config) GetDetector() string {
	if c.Detector != nil && c.Detector.Name != nil {
		return *c.Detector.Name
	}
	return DefaultDetector
}

// GetDetectorEndpoint returns the remote detector address
func (c *Config) GetDetectorEndpoint() string {
	if c.Detector != nil && c.Detector.Endpoint != nil {
		return *c.Detector.Endpoint
	}
	return DefaultDetectorEndpoint
}

// GetConfThreshold returns the minimum person confidence
func (c *Config) GetConfThreshold() float64 {
	if c.Detector != nil && c.Detector.ConfThreshold != nil {
		return *c.Detector.ConfThreshold
	}
	return DefaultConfThreshold
}

// GetDetectorTimeout returns the per-request detector deadline
func (c *Config) GetDetectorTimeout() time.Duration {
	if c.Detector != nil && c.Detector.Timeout != nil {
		if d, err := time.ParseDuration(*c.Detector.Timeout); err == nil && d > 0 {
			return d
		}
	}
	return DefaultDetectorTimeout
}

// DetectorOptions builds the options passed to the detector registry
func (c *Config) DetectorOptions() detectors.Options {
	return detectors.Options{
		Endpoint:      c.GetDetectorEndpoint(),
		ConfThreshold: float32(c.GetConfThreshold()),
		Timeout:       c.GetDetectorTimeout(),
		Motion:        c.MotionConfig(),
	}
}

// TrackerConfig merges the tracker section over the tracker defaults
func (c *Config) TrackerConfig() tracking.Config {
	cfg := tracking.DefaultConfig()
	t := c.Tracker
	if t == nil {
		return cfg
	}
	if t.SearchRadius != nil {
		cfg.SearchRadius = *t.SearchRadius
	}
	if t.MinScore != nil {
		cfg.MinScore = *t.MinScore
	}
	if t.MaxSamples != nil {
		cfg.MaxSamples = *t.MaxSamples
	}
	if t.LearningRate != nil {
		cfg.LearningRate = *t.LearningRate
	}
	return cfg
}

// MotionConfig merges the motion section over the blob detector defaults
func (c *Config) MotionConfig() motion.Config {
	cfg := motion.DefaultConfig()
	m := c.Motion
	if m == nil {
		return cfg
	}
	if m.MaxWidth != nil {
		cfg.MaxWidth = *m.MaxWidth
	}
	if m.PixelThreshold != nil {
		cfg.PixelThreshold = uint8(*m.PixelThreshold)
	}
	if m.MinAreaFraction != nil {
		cfg.MinAreaFraction = *m.MinAreaFraction
	}
	if m.MinAspect != nil {
		cfg.MinAspect = *m.MinAspect
	}
	if m.DilateRadius != nil {
		cfg.DilateRadius = *m.DilateRadius
	}
	return cfg
}

// GetFPS returns the requested capture rate; 0 keeps the native rate
func (c *Config) GetFPS() int {
	if c.Source != nil && c.Source.FPS != nil {
		return *c.Source.FPS
	}
	return 0
}

// GetWidth returns the requested capture width
func (c *Config) GetWidth() int {
	if c.Source != nil && c.Source.Width != nil {
		return *c.Source.Width
	}
	return 0
}

// GetHeight returns the requested capture height
func (c *Config) GetHeight() int {
	if c.Source != nil && c.Source.Height != nil {
		return *c.Source.Height
	}
	return 0
}

// GetPollInterval returns the snapshot polling period
func (c *Config) GetPollInterval() time.Duration {
	if c.Source != nil && c.Source.PollInterval != nil {
		if d, err := time.ParseDuration(*c.Source.PollInterval); err == nil {
			return d
		}
	}
	return 0
}

// GetFFmpegPath returns the ffmpeg binary to run
func (c *Config) GetFFmpegPath() string {
	if c.Source != nil && c.Source.FFmpegPath != nil {
		return *c.Source.FFmpegPath
	}
	return "ffmpeg"
}

// GetListen returns the API server address
func (c *Config) GetListen() string {
	if c.Listen != nil {
		return *c.Listen
	}
	return DefaultListen
}

// GetDatabase returns the run ledger path
func (c *Config) GetDatabase() string {
	if c.Database != nil {
		return *c.Database
	}
	return ""
}

// GetReport returns the telemetry chart path
func (c *Config) GetReport() string {
	if c.Report != nil {
		return *c.Report
	}
	return ""
}

// AuthConfig reads the operator account from the environment
func AuthConfig(lookup func(string) (string, bool)) auth.Config {
	get := func(key string) string {
		v, _ := lookup(key)
		return v
	}

	cfg := auth.Config{
		Enabled:   get(EnvAuthEnabled) == "true",
		Username:  get(EnvAuthUsername),
		Password:  get(EnvAuthPassword),
		JWTSecret: get(EnvJWTSecret),
	}
	if exp := get(EnvJWTExpiry); exp != "" {
		if d, err := time.ParseDuration(exp); err == nil {
			cfg.JWTExpiry = d
		} else if hours, err := strconv.Atoi(exp); err == nil {
			cfg.JWTExpiry = time.Duration(hours) * time.Hour
		}
	}
	return cfg
}
