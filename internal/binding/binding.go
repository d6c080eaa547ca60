// Package binding maps bridge attributes to the items that mirror them.
package binding

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dokzlo13/huelink/internal/item"
)

var (
	// ErrDuplicateBinding is returned when the same item is registered twice for one key.
	ErrDuplicateBinding = errors.New("duplicate binding")
	// ErrItemAlreadyBound is returned when an item is registered for a second key.
	ErrItemAlreadyBound = errors.New("item already bound to another key")
	// ErrUnknownResource is returned for a namespace outside the known set.
	ErrUnknownResource = errors.New("unknown resource namespace")
)

// Resource is the mapping namespace of a binding. It differs from the bridge
// resource type: grouped_light lives under "group", connectivity under "sensor".
type Resource string

const (
	Light       Resource = "light"
	Group       Resource = "group"
	Scene       Resource = "scene"
	Sensor      Resource = "sensor"
	Button      Resource = "button"
	DevicePower Resource = "device_power"
)

// ParseResource validates a namespace name.
func ParseResource(s string) (Resource, error) {
	switch r := Resource(s); r {
	case Light, Group, Scene, Sensor, Button, DevicePower:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownResource, s)
}

// Key identifies one attribute of one bridge resource.
type Key struct {
	ID       string
	Resource Resource
	Function string
}

func (k Key) String() string {
	return k.ID + "|" + string(k.Resource) + "|" + k.Function
}

// Binding ties an item to a key.
type Binding struct {
	Item item.Item
	Key  Key
	// TransitionTime overrides the default transition for outbound commands.
	TransitionTime *time.Duration
}

// Table is the mapping index. Bindings are added at startup and never removed.
type Table struct {
	mu     sync.RWMutex
	byKey  map[Key][]item.Item
	byItem map[string]Binding
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		byKey:  make(map[Key][]item.Item),
		byItem: make(map[string]Binding),
	}
}

// Register adds b to the table.
func (t *Table) Register(b Binding) error {
	if b.Item == nil {
		return errors.New("binding has no item")
	}
	name := b.Item.Name()

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byItem[name]; ok {
		if existing.Key == b.Key {
			return fmt.Errorf("%w: %s -> %s", ErrDuplicateBinding, name, b.Key)
		}
		return fmt.Errorf("%w: %s is bound to %s", ErrItemAlreadyBound, name, existing.Key)
	}

	t.byKey[b.Key] = append(t.byKey[b.Key], b.Item)
	t.byItem[name] = b
	return nil
}

// Lookup returns the items bound to key. A miss returns an empty, non-nil slice.
func (t *Table) Lookup(key Key) []item.Item {
	t.mu.RLock()
	defer t.mu.RUnlock()

	items := t.byKey[key]
	out := make([]item.Item, len(items))
	copy(out, items)
	return out
}

// ForItem returns the binding of a named item.
func (t *Table) ForItem(name string) (Binding, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.byItem[name]
	return b, ok
}

// Len returns the number of bindings.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byItem)
}
