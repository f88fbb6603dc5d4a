package party

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirosfoundation/go-as2/pkg/message"
)

// Registry holds the configured parties, keyed by case-insensitive alias
type Registry struct {
	mu      sync.RWMutex
	parties map[string]*Party
}

// NewRegistry creates a new party registry
func NewRegistry(parties ...*Party) *Registry {
	r := &Registry{
		parties: make(map[string]*Party),
	}
	for _, p := range parties {
		r.parties[key(p.Alias)] = p
	}
	return r
}

// Add adds a party, replacing any party with the same alias
func (r *Registry) Add(p *Party) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parties[key(p.Alias)] = p
}

// Get retrieves a party by alias
func (r *Registry) Get(alias string) (*Party, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parties[key(alias)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown party %q", message.ErrConfiguration, alias)
	}
	return p, nil
}

// Local returns the local party
func (r *Registry) Local() (*Party, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.parties {
		if p.Local {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no local party configured", message.ErrConfiguration)
}

// All returns every party sorted by alias
func (r *Registry) All() []*Party {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Party, 0, len(r.parties))
	for _, p := range r.parties {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i].Alias) < key(out[j].Alias) })
	return out
}

func key(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}
