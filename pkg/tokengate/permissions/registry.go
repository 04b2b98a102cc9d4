package permissions

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mikepea/tokengate/pkg/tokengate/config"
	"github.com/mikepea/tokengate/pkg/tokengate/logging"
	"github.com/mikepea/tokengate/pkg/tokengate/metrics"
	"go.uber.org/zap"
)

// Config maps backend names to factory names. Default names the backend used
// when a caller does not ask for one.
type Config struct {
	Default  string
	Backends map[string]string
}

// ConfigFromSettings converts loaded settings into a registry config.
func ConfigFromSettings(s config.PermissionSettings) Config {
	return Config{Default: s.Default, Backends: s.BackendFactories()}
}

// Registry builds the configured backends on first use and keeps them until
// ClearCache is called.
type Registry struct {
	mu        sync.RWMutex
	cfg       Config
	factories map[string]Factory
	backends  map[string]Backend // nil until booted
	metrics   *metrics.Metrics
}

// NewRegistry creates a registry. Nothing is instantiated until Boot or Get.
func NewRegistry(cfg Config, factories map[string]Factory) *Registry {
	r := &Registry{
		cfg:       cfg,
		factories: make(map[string]Factory, len(factories)),
	}
	for name, f := range factories {
		r.factories[name] = f
	}
	return r
}

// SetMetrics records permission checks made through policies.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// Register adds or replaces a factory. It takes effect on the next boot.
func (r *Registry) Register(factoryName string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[factoryName] = f
}

// Configure replaces the backend configuration and drops built backends.
func (r *Registry) Configure(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.backends = nil
}

// Boot instantiates every configured backend. A failed boot leaves the
// registry uninitialized.
func (r *Registry) Boot() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.boot()
}

func (r *Registry) boot() error {
	if r.backends != nil {
		return nil
	}

	backends := make(map[string]Backend, len(r.cfg.Backends))
	for name, factoryName := range r.cfg.Backends {
		factory, ok := r.factories[factoryName]
		if !ok {
			return fmt.Errorf("%w: backend %q uses unknown factory %q (available: %v)",
				config.ErrConfiguration, name, factoryName, r.availableFactories())
		}
		b, err := factory()
		if err != nil {
			return fmt.Errorf("%w: backend %q: %v", config.ErrConfiguration, name, err)
		}
		backends[name] = b
	}

	r.backends = backends
	logging.L.Debug("permission backends booted", zap.Int("count", len(backends)))
	return nil
}

// Get returns the named backend, booting the registry if needed. An empty
// name selects the default backend.
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	backends := r.backends
	name = r.resolve(name)
	r.mu.RUnlock()

	if backends == nil {
		r.mu.Lock()
		err := r.boot()
		backends = r.backends
		r.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: backend %q is not configured", config.ErrConfiguration, name)
	}
	return b, nil
}

// Resolve returns the backend name Get would use for name.
func (r *Registry) Resolve(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(name)
}

func (r *Registry) resolve(name string) string {
	if name != "" {
		return name
	}
	if r.cfg.Default != "" {
		return r.cfg.Default
	}
	return config.DefaultBackend
}

// ClearCache drops every built backend; the next Get builds them again.
func (r *Registry) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = nil
}

func (r *Registry) recordCheck(backend string, allowed bool) {
	r.mu.RLock()
	m := r.metrics
	r.mu.RUnlock()
	m.PermissionCheck(backend, allowed)
}

func (r *Registry) availableFactories() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
