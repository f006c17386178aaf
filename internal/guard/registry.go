package guard

import "sync"

// Registry is a process-lifetime set of keys used to suppress duplicate
// client-side side effects. It is never persisted; a restart clears it.
type Registry struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{seen: map[string]struct{}{}}
}

// TryMark adds key and reports whether it was absent.
func (r *Registry) TryMark(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[key]; ok {
		return false
	}
	r.seen[key] = struct{}{}
	return true
}

func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[key]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
