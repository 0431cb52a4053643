package detectors

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"peoplewatch/internal/motion"
	"peoplewatch/internal/pipeline"
)

// Options carries the settings any detector backend may need
type Options struct {
	Endpoint      string        // Remote inference endpoint (http/grpc)
	ConfThreshold float32       // Minimum person confidence
	Timeout       time.Duration // Per-request deadline
	Motion        motion.Config // Blob detector tuning
	Logger        *slog.Logger
}

// Factory builds a detector from options
type Factory func(opts Options) (pipeline.Detector, error)

// Registry maps detector names to factories
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty detector registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry returns a registry with every built-in backend
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(NameHTTP, newHTTP)
	_ = r.Register(NameGRPC, newGRPC)
	_ = r.Register(NameMotion, newMotion)
	return r
}

// Register adds a detector factory to the registry
func (r *Registry) Register(name string, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("detector factory cannot be nil")
	}
	if name == "" {
		return fmt.Errorf("detector name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("detector %q already registered", name)
	}

	r.factories[name] = factory
	return nil
}

// Build creates the detector registered under name
func (r *Registry) Build(name string, opts Options) (pipeline.Detector, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown detector %q (available: %v)", name, r.Names())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	d, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s detector: %w", name, err)
	}
	return d, nil
}

// Names returns the registered detector names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
