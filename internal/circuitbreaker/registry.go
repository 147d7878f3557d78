package circuitbreaker

import (
	"sync"

	"github.com/oncallops/answergate/internal/domain"
)

// Snapshot pairs a breaker's state with its counters for admin endpoints.
type Snapshot struct {
	State string `json:"state"`
	Stats Stats  `json:"stats"`
}

// Registry manages circuit breakers by name. Entries are created lazily on
// first lookup and live for the process lifetime; construct one Registry at
// startup and pass it to everything that needs breakers.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker registered under name, creating it with cfg on
// first use. A nil cfg falls back to DefaultConfig(name). Subsequent calls
// return the same instance regardless of cfg.
func (r *Registry) Get(name string, cfg *Config) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.breakers[name]; ok {
		return existing
	}

	var c Config
	if cfg != nil {
		c = *cfg
	} else {
		c = DefaultConfig(name)
	}
	c.Name = name

	b = New(c)
	r.breakers[name] = b
	return b
}

// Lookup returns the breaker registered under name without creating one.
func (r *Registry) Lookup(name string) (*Breaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.breakers[name]
	if !ok {
		return nil, domain.ErrBreakerNotFound
	}
	return b, nil
}

// AllStats returns a per-name snapshot of every registered breaker.
func (r *Registry) AllStats() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Snapshot, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = Snapshot{
			State: b.State().String(),
			Stats: b.Stats(),
		}
	}
	return out
}

// Reset applies a manual reset to the named breaker.
func (r *Registry) Reset(name string) error {
	b, err := r.Lookup(name)
	if err != nil {
		return err
	}
	b.Reset()
	return nil
}

// ResetAll applies a manual reset to every registered breaker.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.breakers {
		b.Reset()
	}
}

// Remove deletes a breaker from the registry. Operator action only.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, name)
}
