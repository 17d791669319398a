// Package fleet holds the in-memory bus records. Each bus has its own lock so
// that updates to different buses never wait on each other.
package fleet

import (
	"errors"
	"sort"
	"sync"

	"transtrack-api/models"
)

var ErrNotFound = errors.New("bus not found")

type entry struct {
	mu  sync.Mutex
	bus *models.Bus
}

type Repository struct {
	mu    sync.RWMutex
	buses map[string]*entry
}

func NewRepository() *Repository {
	return &Repository{buses: make(map[string]*entry)}
}

func (r *Repository) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.buses[id]
	return e, ok
}

// Get returns a deep copy of the bus.
func (r *Repository) Get(id string) (models.Bus, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return models.Bus{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bus.Clone(), true
}

// Upsert registers a bus or replaces the raw fields of an existing one. The
// retained analytic state of an existing bus survives.
func (r *Repository) Upsert(b models.Bus) models.Bus {
	r.mu.Lock()
	e, ok := r.buses[b.ID]
	if !ok {
		stored := b.Clone()
		stored.ClampPassengers()
		r.buses[b.ID] = &entry{bus: &stored}
		r.mu.Unlock()
		return stored.Clone()
	}
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.bus.State
	next := b.Clone()
	next.State = state
	next.ClampPassengers()
	*e.bus = next
	return e.bus.Clone()
}

// Update runs fn with exclusive access to the bus. Nothing fn did is rolled
// back when it returns an error, so fn must validate before mutating.
func (r *Repository) Update(id string, fn func(*models.Bus) error) (models.Bus, error) {
	e, ok := r.lookup(id)
	if !ok {
		return models.Bus{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(e.bus); err != nil {
		return models.Bus{}, err
	}
	return e.bus.Clone(), nil
}

// ForEach visits every bus in id order, holding that bus's lock for the
// duration of the call.
func (r *Repository) ForEach(fn func(*models.Bus)) {
	for _, id := range r.IDs() {
		e, ok := r.lookup(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		fn(e.bus)
		e.mu.Unlock()
	}
}

func (r *Repository) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.buses))
	for id := range r.buses {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buses)
}
