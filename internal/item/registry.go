package item

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrDuplicateItem is returned when an item name is declared twice.
var ErrDuplicateItem = errors.New("item already declared")

// Store persists item values across restarts.
type Store interface {
	Load(name string) (any, bool, error)
	Save(name string, value any) error
}

// Options configure a declared item.
type Options struct {
	// EnforceUpdates notifies listeners even when a write does not change the value.
	EnforceUpdates bool
	// Initial is used when the store holds no value for the item.
	Initial any
}

// Registry owns every declared item.
type Registry struct {
	store  Store
	logger zerolog.Logger

	mu        sync.RWMutex
	items     map[string]*Value
	order     []string
	listeners []Listener
}

// NewRegistry creates a registry. store may be nil for a memory-only registry.
func NewRegistry(store Store, logger zerolog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
		items:  make(map[string]*Value),
	}
}

// Declare creates an item, restoring its last persisted value if there is one.
func (r *Registry) Declare(name string, opts Options) (*Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, name)
	}

	v := &Value{
		name:    name,
		enforce: opts.EnforceUpdates,
		reg:     r,
		value:   opts.Initial,
	}

	if r.store != nil {
		stored, ok, err := r.store.Load(name)
		if err != nil {
			r.logger.Warn().Err(err).Str("item", name).Msg("Failed to restore item value")
		} else if ok {
			v.value = stored
		}
	}

	r.items[name] = v
	r.order = append(r.order, name)
	return v, nil
}

// Get returns a declared item.
func (r *Registry) Get(name string) (*Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[name]
	return v, ok
}

// All returns every item in declaration order.
func (r *Registry) All() []*Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Value, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.items[name])
	}
	return out
}

// OnWrite registers a listener for item writes. Listeners run on the
// writer's goroutine.
func (r *Registry) OnWrite(l Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

func (r *Registry) notify(it Item, caller string) {
	r.mu.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, l := range listeners {
		l(it, caller)
	}
}

func (r *Registry) persist(name string, value any) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(name, value); err != nil {
		r.logger.Warn().Err(err).Str("item", name).Msg("Failed to persist item value")
	}
}
