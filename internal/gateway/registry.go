package gateway

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps gateway names to loaded plugins and their configuration. It
// is built once at startup; resolution of an unknown name is a configuration
// error and must be caught before any payment flow depends on it.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	plugin any
	cfg    Config
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a plugin under name. A plugin exposing no payment capability
// at all is rejected outright: it cannot serve any operation.
func (r *Registry) Register(name string, plugin any, cfg Config) error {
	if name == "" {
		return fmt.Errorf("gateway registry: name is required")
	}
	if plugin == nil {
		return fmt.Errorf("gateway registry: %s: plugin is nil", name)
	}
	ops := []Operation{OpAuthorize, OpProcessPayment, OpCapture, OpVoid, OpRefund, OpClientToken}
	capable := false
	for _, op := range ops {
		if Supports(plugin, op) {
			capable = true
			break
		}
	}
	if !capable {
		return fmt.Errorf("gateway registry: %s implements no payment operation", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("gateway registry: %s already registered", name)
	}
	r.entries[name] = entry{plugin: plugin, cfg: cfg}
	return nil
}

// Resolve returns the plugin and configuration for name.
func (r *Registry) Resolve(name string) (any, Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, Config{}, fmt.Errorf("gateway registry: unknown gateway %q", name)
	}
	return e.plugin, e.cfg, nil
}

// Names lists the registered gateways, sorted, for startup diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
