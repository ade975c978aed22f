// Package registry manages sink and cursor-store factories, resolving the
// type names used in configuration to constructors.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/driftdata/drift/pkg/config"
	"github.com/driftdata/drift/pkg/errors"
	"github.com/driftdata/drift/pkg/sink"
	"github.com/driftdata/drift/pkg/state"
)

// SinkFactory creates a sink from the invocation configuration. The
// full configuration is passed so factories can read the performance
// tunables next to their own section.
type SinkFactory func(ctx context.Context, cfg *config.SyncConfig) (sink.Sink, error)

// StoreFactory creates a cursor store from the invocation configuration.
type StoreFactory func(ctx context.Context, cfg *config.SyncConfig) (state.Store, error)

// Registry maps type names to factories.
type Registry struct {
	mu     sync.RWMutex
	sinks  map[string]SinkFactory
	stores map[string]StoreFactory
}

var globalRegistry = NewRegistry()

// NewRegistry creates a registry pre-populated with the built-in sinks
// and stores.
func NewRegistry() *Registry {
	r := &Registry{
		sinks:  make(map[string]SinkFactory),
		stores: make(map[string]StoreFactory),
	}

	r.RegisterSink("memory", func(_ context.Context, _ *config.SyncConfig) (sink.Sink, error) {
		return sink.NewMemorySink(), nil
	})
	r.RegisterSink("csv", func(_ context.Context, cfg *config.SyncConfig) (sink.Sink, error) {
		return sink.NewCSVSink(cfg.Sink.Path, cfg.Performance.BufferSize), nil
	})
	r.RegisterSink("jsonl", func(_ context.Context, cfg *config.SyncConfig) (sink.Sink, error) {
		return sink.NewJSONLSink(cfg.Sink.Path, cfg.Performance.BufferSize), nil
	})
	r.RegisterSink("postgres", func(ctx context.Context, cfg *config.SyncConfig) (sink.Sink, error) {
		return sink.NewPostgresSink(ctx, cfg.Sink.DSN, cfg.Performance.BatchSize)
	})

	r.RegisterStore("memory", func(_ context.Context, _ *config.SyncConfig) (state.Store, error) {
		return state.NewMemoryStore(), nil
	})
	r.RegisterStore("file", func(_ context.Context, cfg *config.SyncConfig) (state.Store, error) {
		return state.NewFileStore(cfg.State.Path), nil
	})
	r.RegisterStore("sqlite", func(ctx context.Context, cfg *config.SyncConfig) (state.Store, error) {
		return state.NewSQLiteStore(ctx, cfg.State.Path)
	})
	r.RegisterStore("postgres", func(ctx context.Context, cfg *config.SyncConfig) (state.Store, error) {
		return state.NewPostgresStore(ctx, cfg.State.DSN)
	})

	return r
}

// RegisterSink registers a sink factory under name, replacing any
// previous registration.
func (r *Registry) RegisterSink(name string, factory SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[name] = factory
}

// RegisterStore registers a store factory under name.
func (r *Registry) RegisterStore(name string, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[name] = factory
}

// CreateSink instantiates the sink named in cfg.Sink.
func (r *Registry) CreateSink(ctx context.Context, cfg *config.SyncConfig) (sink.Sink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[cfg.Sink.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "sink type %q is not registered", cfg.Sink.Type)
	}
	return factory(ctx, cfg)
}

// CreateStore instantiates the cursor store named in cfg.State.
func (r *Registry) CreateStore(ctx context.Context, cfg *config.SyncConfig) (state.Store, error) {
	r.mu.RLock()
	factory, ok := r.stores[cfg.State.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "state store type %q is not registered", cfg.State.Type)
	}
	return factory(ctx, cfg)
}

// ListSinks returns the registered sink type names, sorted.
func (r *Registry) ListSinks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListStores returns the registered store type names, sorted.
func (r *Registry) ListStores() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Package-level helpers operating on the global registry.

// RegisterSink registers a sink factory globally.
func RegisterSink(name string, factory SinkFactory) {
	globalRegistry.RegisterSink(name, factory)
}

// RegisterStore registers a store factory globally.
func RegisterStore(name string, factory StoreFactory) {
	globalRegistry.RegisterStore(name, factory)
}

// CreateSink instantiates a sink from the global registry.
func CreateSink(ctx context.Context, cfg *config.SyncConfig) (sink.Sink, error) {
	return globalRegistry.CreateSink(ctx, cfg)
}

// CreateStore instantiates a store from the global registry.
func CreateStore(ctx context.Context, cfg *config.SyncConfig) (state.Store, error) {
	return globalRegistry.CreateStore(ctx, cfg)
}

// ListSinks lists global sink types.
func ListSinks() []string {
	return globalRegistry.ListSinks()
}

// ListStores lists global store types.
func ListStores() []string {
	return globalRegistry.ListStores()
}
