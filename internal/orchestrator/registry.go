package orchestrator

import "sync"

// Registry hands out one orchestrator per store root so every caller
// in a process shares the same run tasks and per-run locks. Tests use
// Reset to drop cached instances between cases.
type Registry struct {
	mu    sync.Mutex
	byKey map[string]*Orchestrator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*Orchestrator)}
}

// Get returns the orchestrator for the key, building it on first use.
// The build function runs under the registry lock; concurrent callers
// for the same key observe a single instance.
func (r *Registry) Get(key string, build func() (*Orchestrator, error)) (*Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.byKey[key]; ok {
		return o, nil
	}
	o, err := build()
	if err != nil {
		return nil, err
	}
	r.byKey[key] = o
	return o, nil
}

// Reset waits for each cached orchestrator's runs to finish and drops
// all instances.
func (r *Registry) Reset() {
	r.mu.Lock()
	cached := make([]*Orchestrator, 0, len(r.byKey))
	for _, o := range r.byKey {
		cached = append(cached, o)
	}
	r.byKey = make(map[string]*Orchestrator)
	r.mu.Unlock()

	for _, o := range cached {
		o.Wait()
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }
