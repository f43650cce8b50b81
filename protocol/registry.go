package protocol

import (
	"sort"
	"sync"

	"github.com/tilecraft/tilestream/source"
)

// Registry holds the tile sources a server exposes, by source id.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]source.TileSource
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]source.TileSource)}
}

// Register adds or replaces a source under id.
func (r *Registry) Register(id string, src source.TileSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[id] = src
}

// Get returns the source registered under id.
func (r *Registry) Get(id string) (source.TileSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	return src, ok
}

// List returns the registered source ids in ascending order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sources))
	for id := range r.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
