package gatt

import (
	"sync"

	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry maps characteristic UUIDs to the live handles of the current
// connection. It is replaced wholesale on every successful discovery and
// may legitimately be empty before the first one.
type Registry struct {
	mu       sync.RWMutex
	chars    *orderedmap.OrderedMap[uuid.UUID, *Characteristic]
	services []*Service
}

func NewRegistry() *Registry {
	return &Registry{
		chars: orderedmap.New[uuid.UUID, *Characteristic](),
	}
}

// Replace drops every known characteristic and indexes the given services.
// When two services expose the same characteristic UUID the first one wins.
func (r *Registry) Replace(services []*Service) {
	chars := orderedmap.New[uuid.UUID, *Characteristic]()
	for _, svc := range services {
		for _, c := range svc.Characteristics {
			if _, exists := chars.Get(c.UUID); exists {
				continue
			}
			chars.Set(c.UUID, c)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.chars = chars
	r.services = append([]*Service(nil), services...)
}

// Clear empties the registry.
func (r *Registry) Clear() {
	r.Replace(nil)
}

// Get returns the characteristic with the given UUID, or nil.
func (r *Registry) Get(u uuid.UUID) *Characteristic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, _ := r.chars.Get(u)
	return c
}

// Lookup is Get with a NotFoundError for misses.
func (r *Registry) Lookup(u uuid.UUID) (*Characteristic, error) {
	if c := r.Get(u); c != nil {
		return c, nil
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{ShortString(u)}}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chars.Len()
}

// Characteristics returns every characteristic in discovery order.
func (r *Registry) Characteristics() []*Characteristic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Characteristic, 0, r.chars.Len())
	for pair := r.chars.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	return result
}

// Services returns the services of the last discovery.
func (r *Registry) Services() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Service(nil), r.services...)
}
