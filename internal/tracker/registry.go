package tracker

import (
	"sort"
	"sync"
)

// Registry indexes trackers by symbol for read-only consumers such as the
// HTTP API. Each tracker still has exactly one writer.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{trackers: make(map[string]*Tracker)}
}

// Add registers t under its symbol, replacing any previous tracker.
func (r *Registry) Add(t *Tracker) {
	r.mu.Lock()
	r.trackers[t.cfg.Symbol] = t
	r.mu.Unlock()
}

// Get looks up a tracker by symbol.
func (r *Registry) Get(symbol string) (*Tracker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trackers[symbol]
	return t, ok
}

// Symbols returns the registered symbols in sorted order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.trackers))
	for s := range r.trackers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// All returns the registered trackers ordered by symbol.
func (r *Registry) All() []*Tracker {
	syms := r.Symbols()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tracker, 0, len(syms))
	for _, s := range syms {
		out = append(out, r.trackers[s])
	}
	return out
}
