// Package resources keeps the last known attribute values of bridge resources
// together with the ownership graph needed to resolve names.
package resources

import (
	"sort"
	"sync"

	"github.com/dokzlo13/huelink/internal/hue"
)

// Placeholder is returned when a name cannot be resolved.
const Placeholder = "-"

// AllLights names the bridge-wide group.
const AllLights = "(All lights)"

// Snapshot is a copy of what the cache knows about one resource.
type Snapshot struct {
	ID     string           `json:"id"`
	Type   hue.ResourceType `json:"type,omitempty"`
	Name   string           `json:"name,omitempty"`
	Owner  *hue.ResourceRef `json:"owner,omitempty"`
	Fields map[string]any   `json:"fields"`
}

// Cache is rebuilt from enumeration at every session start and updated from
// events. Lookups for resources that were never seen return absent.
type Cache struct {
	mu       sync.RWMutex
	fields   map[string]map[string]any
	types    map[string]hue.ResourceType
	names    map[string]string
	idV1     map[string]string
	owner    map[string]hue.ResourceRef
	services map[string][]hue.ResourceRef
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	c := &Cache{}
	c.Reset()
	return c
}

// Reset drops everything.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields = make(map[string]map[string]any)
	c.types = make(map[string]hue.ResourceType)
	c.names = make(map[string]string)
	c.idV1 = make(map[string]string)
	c.owner = make(map[string]hue.ResourceRef)
	c.services = make(map[string][]hue.ResourceRef)
}

// Put overwrites the last value of one field.
func (c *Cache) Put(id, field string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.fields[id]
	if !ok {
		f = make(map[string]any)
		c.fields[id] = f
	}
	f[field] = value
}

// Get returns the last value of one field.
func (c *Cache) Get(id, field string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.fields[id][field]
	return v, ok
}

// Observe records the structural information carried by r: type, name,
// legacy id, owner and owned services. Partial records only overwrite what
// they carry.
func (c *Cache) Observe(r hue.Resource) {
	if r.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if r.Type != "" {
		c.types[r.ID] = r.Type
	}
	if r.Metadata != nil && r.Metadata.Name != "" {
		c.names[r.ID] = r.Metadata.Name
	}
	if r.IDv1 != "" {
		c.idV1[r.ID] = r.IDv1
	}
	if r.Owner != nil && r.Owner.RID != "" {
		c.owner[r.ID] = *r.Owner
	}
	if len(r.Services) > 0 {
		c.services[r.ID] = append([]hue.ResourceRef(nil), r.Services...)
		for _, svc := range r.Services {
			if _, known := c.owner[svc.RID]; !known || r.Type == hue.TypeDevice {
				c.owner[svc.RID] = r.Ref()
			}
		}
	}
}

// Forget removes a deleted resource.
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fields, id)
	delete(c.types, id)
	delete(c.names, id)
	delete(c.idV1, id)
	delete(c.owner, id)
	delete(c.services, id)
}

// Type returns the resource type of id, if known.
func (c *Cache) Type(id string) (hue.ResourceType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[id]
	return t, ok
}

// FindOwnerDevice resolves a light or sensor service to its device.
func (c *Cache) FindOwnerDevice(rid string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.findOwnerDevice(rid)
}

func (c *Cache) findOwnerDevice(rid string) (string, bool) {
	if ref, ok := c.owner[rid]; ok && ref.RType == hue.TypeDevice {
		return ref.RID, true
	}
	for owner, svcs := range c.services {
		if c.types[owner] != hue.TypeDevice {
			continue
		}
		for _, svc := range svcs {
			if svc.RID == rid {
				return owner, true
			}
		}
	}
	return "", false
}

// LightsOf returns the light services of a device in the order the device lists them.
func (c *Cache) LightsOf(deviceID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var lights []string
	for _, svc := range c.services[deviceID] {
		if svc.RType == hue.TypeLight {
			lights = append(lights, svc.RID)
		}
	}
	return lights
}

// DeviceName returns the device's display name or Placeholder.
func (c *Cache) DeviceName(deviceID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if name, ok := c.names[deviceID]; ok {
		return name
	}
	return Placeholder
}

// LightName returns the name of the device owning a light.
func (c *Cache) LightName(lightID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if dev, ok := c.findOwnerDevice(lightID); ok {
		if name, ok := c.names[dev]; ok {
			return name
		}
	}
	if name, ok := c.names[lightID]; ok {
		return name
	}
	return Placeholder
}

// GroupName returns the room or zone name of a grouped light, AllLights
// for the bridge-wide group, or Placeholder.
func (c *Cache) GroupName(groupedLightID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.idV1[groupedLightID] == "/groups/0" {
		return AllLights
	}
	ref, ok := c.owner[groupedLightID]
	if !ok {
		return Placeholder
	}
	if ref.RType == hue.TypeBridgeHome {
		return AllLights
	}
	if name, ok := c.names[ref.RID]; ok {
		return name
	}
	return Placeholder
}

// Snapshot returns a copy of one resource's state.
func (c *Cache) Snapshot(id string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, known := c.types[id]
	fields, hasFields := c.fields[id]
	if !known && !hasFields {
		return Snapshot{}, false
	}

	snap := Snapshot{
		ID:     id,
		Type:   t,
		Name:   c.names[id],
		Fields: make(map[string]any, len(fields)),
	}
	if ref, ok := c.owner[id]; ok {
		snap.Owner = &ref
	}
	for k, v := range fields {
		snap.Fields[k] = v
	}
	return snap, true
}

// IDs returns the ids of every resource with cached field values, sorted.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.fields))
	for id := range c.fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
