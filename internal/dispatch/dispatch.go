// Package dispatch delivers extracted field values to bound items.
package dispatch

import (
	"github.com/rs/zerolog"

	"github.com/dokzlo13/huelink/internal/binding"
	"github.com/dokzlo13/huelink/internal/resources"
)

// Update is one field-level change of one bridge resource.
type Update struct {
	ID       string
	Resource binding.Resource
	Function string
	Value    any
}

// Key returns the mapping key the update is delivered to.
func (u Update) Key() binding.Key {
	return binding.Key{ID: u.ID, Resource: u.Resource, Function: u.Function}
}

// Dispatcher writes updates into items. It must run on the event loop.
type Dispatcher struct {
	table    *binding.Table
	cache    *resources.Cache
	identity string
	logger   zerolog.Logger
}

// New creates a dispatcher. identity tags every write so the outbound path
// can recognise its own echoes.
func New(table *binding.Table, cache *resources.Cache, identity string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		table:    table,
		cache:    cache,
		identity: identity,
		logger:   logger,
	}
}

// Dispatch records each update in the cache and writes it to every bound
// item. It returns the number of item writes.
func (d *Dispatcher) Dispatch(updates []Update) int {
	writes := 0
	for _, u := range updates {
		d.cache.Put(u.ID, string(u.Resource)+"."+u.Function, u.Value)

		for _, it := range d.table.Lookup(u.Key()) {
			it.Write(u.Value, d.identity)
			writes++
			d.logger.Debug().
				Str("item", it.Name()).
				Str("key", u.Key().String()).
				Interface("value", u.Value).
				Msg("Item updated from bridge")
		}
	}
	return writes
}
