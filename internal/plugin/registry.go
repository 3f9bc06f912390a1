// Package plugin hosts the compiled-in plugin registry and the facade that
// scopes what a running plugin can reach.
package plugin

import (
	"fmt"
	"sort"
	"sync"

	sdk "github.com/cloudgate-framework/cloudgate/pkg/sdk/v1"
)

// Registry holds the available plugins, keyed by their declared ID.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]sdk.Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]sdk.Plugin)}
}

// Register adds a plugin. Duplicate or empty IDs are rejected.
func (r *Registry) Register(p sdk.Plugin) error {
	meta := p.Meta()
	if meta.ID == "" {
		return fmt.Errorf("plugin has no id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[meta.ID]; exists {
		return fmt.Errorf("plugin already registered: %s", meta.ID)
	}
	r.plugins[meta.ID] = p
	return nil
}

// Get returns the plugin with the given ID.
func (r *Registry) Get(id string) (sdk.Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	if !ok {
		return nil, fmt.Errorf("plugin not found: %s", id)
	}
	return p, nil
}

// List returns the metadata of every registered plugin, sorted by ID.
func (r *Registry) List() []sdk.PluginMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metas := make([]sdk.PluginMeta, 0, len(r.plugins))
	for _, p := range r.plugins {
		metas = append(metas, p.Meta())
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })
	return metas
}
