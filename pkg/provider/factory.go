package provider

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Constructor builds an adapter from its configuration.
type Constructor func(cfg ProviderConfig) (Adapter, error)

const defaultCacheSize = 16

// Factory resolves provider names to adapters and keeps constructed adapters
// in a bounded LRU cache. Cached adapters hold credentials only.
type Factory struct {
	ctors    map[Name]Constructor
	settings *Settings

	// build serializes construct-then-Add so an adapter is built once.
	build sync.Mutex
	cache *lru.Cache[Name, Adapter]
}

// NewFactory creates a factory over a static constructor table.
func NewFactory(ctors map[Name]Constructor, settings *Settings, maxSize int) *Factory {
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}
	cache, err := lru.New[Name, Adapter](maxSize)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return &Factory{
		ctors:    ctors,
		settings: settings,
		cache:    cache,
	}
}

// Get returns the cached adapter for name, constructing it on first use.
func (f *Factory) Get(name Name) (Adapter, error) {
	if adapter, ok := f.cache.Get(name); ok {
		return adapter, nil
	}

	ctor, ok := f.ctors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	f.build.Lock()
	defer f.build.Unlock()
	if adapter, ok := f.cache.Get(name); ok {
		return adapter, nil
	}
	adapter, err := ctor(f.settings.Config(name))
	if err != nil {
		return nil, fmt.Errorf("failed to construct %s adapter: %w", name, err)
	}
	f.cache.Add(name, adapter)
	return adapter, nil
}

// Known reports whether a constructor exists for name.
func (f *Factory) Known(name Name) bool {
	_, ok := f.ctors[name]
	return ok
}

// Evict drops a cached adapter so the next Get rebuilds it (e.g., after a
// credential rotation).
func (f *Factory) Evict(name Name) bool {
	return f.cache.Remove(name)
}

// Purge empties the cache.
func (f *Factory) Purge() {
	f.cache.Purge()
}

// Len is the number of cached adapters.
func (f *Factory) Len() int {
	return f.cache.Len()
}

// Names lists the registered provider names in sorted order.
func (f *Factory) Names() []Name {
	names := make([]Name, 0, len(f.ctors))
	for n := range f.ctors {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// RateFor returns the configured admission rate for name.
func (f *Factory) RateFor(name Name) float64 {
	return f.settings.RateFor(name)
}
