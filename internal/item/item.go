// Package item is a small host item framework: named values that can be
// written by several callers, with write notifications carrying the caller
// identity.
package item

import (
	"reflect"
	"sync"
	"time"
)

// Item is a named value owned by the host runtime.
type Item interface {
	Name() string
	Read() any
	// Write sets the value. caller identifies who produced it.
	Write(value any, caller string)
}

// Listener is notified after an item was written.
type Listener func(it Item, caller string)

// Snapshot is a point-in-time view of an item.
type Snapshot struct {
	Name       string    `json:"name"`
	Value      any       `json:"value"`
	LastCaller string    `json:"last_caller,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Value is the Item implementation handed out by Registry.
type Value struct {
	name    string
	enforce bool
	reg     *Registry

	mu         sync.RWMutex
	value      any
	lastCaller string
	updatedAt  time.Time
}

func (v *Value) Name() string {
	return v.name
}

func (v *Value) Read() any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Write stores value and notifies listeners. Unchanged values only notify
// when the item enforces updates.
func (v *Value) Write(value any, caller string) {
	v.mu.Lock()
	changed := !reflect.DeepEqual(v.value, value)
	v.value = value
	v.lastCaller = caller
	v.updatedAt = time.Now()
	v.mu.Unlock()

	v.reg.persist(v.name, value)

	if changed || v.enforce {
		v.reg.notify(v, caller)
	}
}

// Snapshot returns the current state of the item.
func (v *Value) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Snapshot{
		Name:       v.name,
		Value:      v.value,
		LastCaller: v.lastCaller,
		UpdatedAt:  v.updatedAt,
	}
}
