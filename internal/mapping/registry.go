package mapping

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownApp is returned when no configuration is registered for a
// source app.
var ErrUnknownApp = errors.New("no mapping configured for app")

// Registry holds the mapping configuration of every source app, keyed by
// source app id.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]*AppConfig
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{configs: make(map[string]*AppConfig)}
}

// Register adds a configuration. It fails if the source app id is empty
// or already registered.
func (r *Registry) Register(cfg *AppConfig) error {
	if cfg == nil || cfg.SourceAppID == "" {
		return errors.New("register mapping: source app id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[cfg.SourceAppID]; exists {
		return fmt.Errorf("register mapping: app %s already registered", cfg.SourceAppID)
	}
	r.configs[cfg.SourceAppID] = cfg
	return nil
}

// Get returns the configuration for a source app.
func (r *Registry) Get(sourceAppID string) (*AppConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[sourceAppID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, sourceAppID)
	}
	return cfg, nil
}

// All returns every configuration sorted by source app id.
func (r *Registry) All() []*AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*AppConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		result = append(result, cfg)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].SourceAppID < result[j].SourceAppID
	})
	return result
}

// Len returns the number of registered apps.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}

// LoadDir registers every *.json, *.yaml and *.yml file in dir. Files are
// named after their source app id. Errors for individual files are
// collected and returned together; valid files are still registered.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read mapping dir: %w", err)
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}

		cfg, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := r.Register(cfg); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
