package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a provider instance from opaque config (provider-specific).
type Factory func(any) (Provider, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register binds a provider name to its factory.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// New returns a provider instance by name.
func New(name string, cfg any) (Provider, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	return f(cfg)
}

// Names lists registered providers, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
