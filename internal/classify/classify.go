// Package classify turns bridge resource records into field-level updates.
package classify

import (
	"github.com/rs/zerolog"

	"github.com/dokzlo13/huelink/internal/binding"
	"github.com/dokzlo13/huelink/internal/dispatch"
	"github.com/dokzlo13/huelink/internal/hue"
	"github.com/dokzlo13/huelink/internal/resources"
)

// Button events that map to a boolean flag each.
var buttonFlags = []string{"initial_press", "repeat", "short_release", "long_release"}

type extractor func(c *Classifier, r hue.Resource, initialize bool) []dispatch.Update

var extractors = map[hue.ResourceType]extractor{
	hue.TypeLight:              (*Classifier).light,
	hue.TypeGroupedLight:       (*Classifier).groupedLight,
	hue.TypeZigbeeConnectivity: (*Classifier).connectivity,
	hue.TypeButton:             (*Classifier).button,
	hue.TypeDevicePower:        (*Classifier).devicePower,
	hue.TypeGeofenceClient:     (*Classifier).ignore,
	hue.TypeScene:              (*Classifier).scene,

	// Structural resources only feed the ownership graph.
	hue.TypeDevice:     (*Classifier).ignore,
	hue.TypeRoom:       (*Classifier).ignore,
	hue.TypeZone:       (*Classifier).ignore,
	hue.TypeBridgeHome: (*Classifier).ignore,
	hue.TypeBridge:     (*Classifier).ignore,
}

// Classifier extracts updates from resource records. It reads and updates
// the resource cache, so it must run on the event loop.
type Classifier struct {
	cache  *resources.Cache
	logger zerolog.Logger
}

// New creates a classifier.
func New(cache *resources.Cache, logger zerolog.Logger) *Classifier {
	return &Classifier{cache: cache, logger: logger}
}

// HandleEvent processes one event stream message.
func (c *Classifier) HandleEvent(ev hue.Event) []dispatch.Update {
	var out []dispatch.Update
	switch ev.Type {
	case hue.EventUpdate, hue.EventAdd:
		for _, r := range ev.Data {
			out = append(out, c.Classify(r, false)...)
		}
	case hue.EventDelete:
		for _, r := range ev.Data {
			c.cache.Forget(r.ID)
		}
	default:
		c.logger.Debug().Str("event_type", string(ev.Type)).Str("event_id", ev.ID).Msg("Unhandled event type")
	}
	return out
}

// Classify records r in the ownership graph and returns its updates. With
// initialize set, name (and for lights and groups an empty dict) come first.
func (c *Classifier) Classify(r hue.Resource, initialize bool) []dispatch.Update {
	c.cache.Observe(r)

	ex, ok := extractors[r.Type]
	if !ok {
		c.logger.Info().
			Str("type", string(r.Type)).
			Str("id", r.ID).
			Msg("Unhandled resource type")
		return nil
	}
	return ex(c, r, initialize)
}

type emitter struct {
	out []dispatch.Update
}

func (e *emitter) emit(id string, ns binding.Resource, function string, value any) {
	e.out = append(e.out, dispatch.Update{ID: id, Resource: ns, Function: function, Value: value})
}

func (c *Classifier) ignore(hue.Resource, bool) []dispatch.Update {
	return nil
}

func (c *Classifier) light(r hue.Resource, initialize bool) []dispatch.Update {
	var e emitter
	if initialize {
		e.emit(r.ID, binding.Light, "name", c.cache.LightName(r.ID))
		e.emit(r.ID, binding.Light, "dict", map[string]any{})
	}
	if r.On != nil {
		e.emit(r.ID, binding.Light, "on", r.On.On)
	}
	if r.Dimming != nil {
		e.emit(r.ID, binding.Light, "bri", r.Dimming.Brightness)
	}
	if r.Color != nil {
		e.emit(r.ID, binding.Light, "xy", []float64{r.Color.XY.X, r.Color.XY.Y})
	}
	switch {
	case r.ColorTemperature != nil:
		mirek := 0
		if r.ColorTemperature.Mirek != nil {
			mirek = *r.ColorTemperature.Mirek
		}
		e.emit(r.ID, binding.Light, "ct", mirek)
	case initialize:
		// no color temperature capability
		e.emit(r.ID, binding.Light, "ct", 0)
	}
	return e.out
}

func (c *Classifier) groupedLight(r hue.Resource, initialize bool) []dispatch.Update {
	var e emitter
	if initialize {
		e.emit(r.ID, binding.Group, "name", c.cache.GroupName(r.ID))
		e.emit(r.ID, binding.Group, "dict", map[string]any{})
	}
	if r.On != nil {
		e.emit(r.ID, binding.Group, "on", r.On.On)
	}
	if r.Dimming != nil {
		e.emit(r.ID, binding.Group, "bri", r.Dimming.Brightness)
	}
	return e.out
}

func (c *Classifier) ownerDevice(r hue.Resource) (string, bool) {
	if r.Owner != nil && r.Owner.RType == hue.TypeDevice {
		return r.Owner.RID, true
	}
	return c.cache.FindOwnerDevice(r.ID)
}

func (c *Classifier) connectivity(r hue.Resource, initialize bool) []dispatch.Update {
	status := string(r.Status)
	reachable := status == "connected"

	var e emitter
	device, found := c.ownerDevice(r)
	if initialize {
		name := resources.Placeholder
		if found {
			name = c.cache.DeviceName(device)
		}
		e.emit(r.ID, binding.Sensor, "name", name)
	}

	var lights []string
	if found {
		lights = c.cache.LightsOf(device)
	}
	for _, light := range lights {
		e.emit(light, binding.Light, "reachable", reachable)
		e.emit(light, binding.Light, "connectivity", status)
	}
	e.emit(r.ID, binding.Sensor, "connectivity", status)
	e.emit(r.ID, binding.Sensor, "reachable", reachable)

	if len(lights) == 0 {
		name := resources.Placeholder
		if found {
			name = c.cache.DeviceName(device)
		}
		c.logger.Info().
			Str("id", r.ID).
			Str("device", name).
			Str("status", status).
			Msg("Connectivity change for a device without lights")
	}
	return e.out
}

func (c *Classifier) button(r hue.Resource, initialize bool) []dispatch.Update {
	var e emitter
	if initialize {
		name := resources.Placeholder
		if device, ok := c.ownerDevice(r); ok {
			name = c.cache.DeviceName(device)
		}
		e.emit(r.ID, binding.Button, "name", name)
	}

	raw := r.Button.Event()
	if raw == "" {
		return e.out
	}
	e.emit(r.ID, binding.Button, "event", raw)

	recognised := false
	for _, flag := range buttonFlags {
		if flag == raw {
			recognised = true
		}
	}
	if !recognised {
		return e.out
	}
	for _, flag := range buttonFlags {
		e.emit(r.ID, binding.Button, flag, flag == raw)
	}
	return e.out
}

func (c *Classifier) devicePower(r hue.Resource, initialize bool) []dispatch.Update {
	var e emitter
	if initialize {
		name := resources.Placeholder
		if device, ok := c.ownerDevice(r); ok {
			name = c.cache.DeviceName(device)
		}
		e.emit(r.ID, binding.DevicePower, "name", name)
	}
	if r.PowerState == nil {
		return e.out
	}
	if r.PowerState.BatteryState != "" {
		e.emit(r.ID, binding.DevicePower, "power_status", r.PowerState.BatteryState)
	}
	if r.PowerState.BatteryLevel != nil {
		e.emit(r.ID, binding.DevicePower, "battery_level", *r.PowerState.BatteryLevel)
	}
	return e.out
}

func (c *Classifier) scene(r hue.Resource, initialize bool) []dispatch.Update {
	if !initialize || r.Metadata == nil {
		return nil
	}
	var e emitter
	e.emit(r.ID, binding.Scene, "name", r.Metadata.Name)
	return e.out
}
