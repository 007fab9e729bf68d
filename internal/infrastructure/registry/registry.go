package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	"go.uber.org/zap"
)

// denylistedRoots are system directories a backend config may never
// resolve under.
var denylistedRoots = []string{"/etc", "/var", "/usr", "/bin", "/sbin", "/root", "/proc", "/sys"}

// RoutingConfig is the registry-wide routing policy.
type RoutingConfig struct {
	Default        string
	PreferCheapest bool
	FallbackChain  []string
}

// Registry holds the set of backend handles in a name-keyed map
// protected by sync.RWMutex, with health probes fanned out concurrently
// and coerced to "unavailable" on any failure so one bad probe never
// blocks another (mirrors Router.Generate's per-provider isolation).
type Registry struct {
	mu       sync.RWMutex
	backends map[string]service.BackendRunner
	order    []string // insertion order, for deterministic iteration
	routing  RoutingConfig
	logger   *zap.Logger
}

var _ service.Registry = (*Registry)(nil)

// New constructs an empty Registry. Call Add for each backend, then
// Validate before serving traffic.
func New(routing RoutingConfig, logger *zap.Logger) *Registry {
	return &Registry{
		backends: make(map[string]service.BackendRunner),
		routing:  routing,
		logger:   logger.With(zap.String("component", "backend-registry")),
	}
}

// ValidateSourcePath rejects a backend config path that resolves under a
// denylisted system directory.
func ValidateSourcePath(path string) error {
	if path == "" {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve backend config path: %w", err)
	}
	for _, root := range denylistedRoots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return fmt.Errorf("backend config path %q resolves under denylisted root %q", abs, root)
		}
	}
	return nil
}

// Add registers a backend. Names must be unique within the registry
//; registering a duplicate name is an error.
func (r *Registry) Add(b service.BackendRunner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[b.Name()]; exists {
		return fmt.Errorf("duplicate backend name: %s", b.Name())
	}
	r.backends[b.Name()] = b
	r.order = append(r.order, b.Name())
	r.logger.Info("Backend registered",
		zap.String("name", b.Name()),
		zap.String("kind", string(b.Kind())),
	)
	return nil
}

// Validate enforces the startup invariant that a registry with zero
// successfully-constructed backends is rejected.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.backends) == 0 {
		return fmt.Errorf("backend registry has no backends configured")
	}
	return nil
}

// Lookup returns the named backend.
func (r *Registry) Lookup(name string) (service.BackendRunner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// ListAll returns every registered backend in registration order.
func (r *Registry) ListAll() []service.BackendRunner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]service.BackendRunner, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.backends[name])
	}
	return out
}

// ToolCapable returns backends whose Kind is CLI (kind=CLI implies
// supports_tools=true).
func (r *Registry) ToolCapable() []service.BackendRunner {
	var out []service.BackendRunner
	for _, b := range r.ListAll() {
		if b.Kind() == entity.BackendCLI {
			out = append(out, b)
		}
	}
	return out
}

// APIOnly returns backends whose Kind is API.
func (r *Registry) APIOnly() []service.BackendRunner {
	var out []service.BackendRunner
	for _, b := range r.ListAll() {
		if b.Kind() == entity.BackendAPI {
			out = append(out, b)
		}
	}
	return out
}

// FallbackChain returns the configured ordered fallback backend names.
func (r *Registry) FallbackChain() []string {
	return r.routing.FallbackChain
}

// Default returns the configured default backend name.
func (r *Registry) Default() string {
	return r.routing.Default
}

// HealthCheck probes every backend concurrently and always returns a
// result per backend — a panicking or erroring probe is coerced to
// "unavailable" rather than aborting the others, so one backend's failure
// never blocks the rest of the fan-out.
func (r *Registry) HealthCheck(ctx context.Context) map[string]bool {
	backends := r.ListAll()
	results := make(map[string]bool, len(backends))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, b := range backends {
		wg.Add(1)
		go func(b service.BackendRunner) {
			defer wg.Done()
			available := probe(ctx, b, r.logger)
			mu.Lock()
			results[b.Name()] = available
			mu.Unlock()
		}(b)
	}
	wg.Wait()

	return results
}

func probe(ctx context.Context, b service.BackendRunner, logger *zap.Logger) (available bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Warn("Health probe panicked, coercing to unavailable",
				zap.String("backend", b.Name()),
				zap.Any("panic", rec),
			)
			available = false
		}
	}()
	return b.IsAvailable(ctx)
}
