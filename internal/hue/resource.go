package hue

import (
	"encoding/json"
	"time"
)

// ResourceType is a CLIP v2 resource type ("rtype").
type ResourceType string

const (
	TypeLight              ResourceType = "light"
	TypeGroupedLight       ResourceType = "grouped_light"
	TypeZigbeeConnectivity ResourceType = "zigbee_connectivity"
	TypeButton             ResourceType = "button"
	TypeDevicePower        ResourceType = "device_power"
	TypeGeofenceClient     ResourceType = "geofence_client"
	TypeDevice             ResourceType = "device"
	TypeRoom               ResourceType = "room"
	TypeZone               ResourceType = "zone"
	TypeBridgeHome         ResourceType = "bridge_home"
	TypeBridge             ResourceType = "bridge"
	TypeScene              ResourceType = "scene"
)

// ResourceRef points at another resource.
type ResourceRef struct {
	RID   string       `json:"rid"`
	RType ResourceType `json:"rtype"`
}

type Metadata struct {
	Name      string `json:"name"`
	Archetype string `json:"archetype,omitempty"`
}

type On struct {
	On bool `json:"on"`
}

type Dimming struct {
	Brightness float64 `json:"brightness"`
}

type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Color struct {
	XY XY `json:"xy"`
}

// ColorTemperature carries mirek; the bridge reports null while a light is in xy mode.
type ColorTemperature struct {
	Mirek *int `json:"mirek"`
}

type Dynamics struct {
	DurationMs int `json:"duration"`
}

type ButtonReport struct {
	Event   string    `json:"event"`
	Updated time.Time `json:"updated"`
}

type Button struct {
	LastEvent    string        `json:"last_event,omitempty"`
	ButtonReport *ButtonReport `json:"button_report,omitempty"`
}

// Event returns the most recent button event, preferring last_event.
func (b *Button) Event() string {
	if b == nil {
		return ""
	}
	if b.LastEvent != "" {
		return b.LastEvent
	}
	if b.ButtonReport != nil {
		return b.ButtonReport.Event
	}
	return ""
}

type PowerState struct {
	BatteryState string `json:"battery_state,omitempty"`
	BatteryLevel *int   `json:"battery_level,omitempty"`
}

// Status is the zigbee_connectivity status string. Other resource types
// (scenes for example) use an object under the same key; those decode to "".
type Status string

func (s *Status) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || data[0] != '"' {
		*s = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Status(v)
	return nil
}

// Resource is the union of every CLIP v2 field the classifier and the
// ownership graph read. Absent objects stay nil so partial update events can
// be told apart from full records.
type Resource struct {
	ID               string            `json:"id"`
	IDv1             string            `json:"id_v1,omitempty"`
	Type             ResourceType      `json:"type"`
	Owner            *ResourceRef      `json:"owner,omitempty"`
	Metadata         *Metadata         `json:"metadata,omitempty"`
	On               *On               `json:"on,omitempty"`
	Dimming          *Dimming          `json:"dimming,omitempty"`
	Color            *Color            `json:"color,omitempty"`
	ColorTemperature *ColorTemperature `json:"color_temperature,omitempty"`
	Status           Status            `json:"status,omitempty"`
	Button           *Button           `json:"button,omitempty"`
	PowerState       *PowerState       `json:"power_state,omitempty"`
	Children         []ResourceRef     `json:"children,omitempty"`
	Services         []ResourceRef     `json:"services,omitempty"`
	Group            *ResourceRef      `json:"group,omitempty"`
}

// Ref returns a reference to r.
func (r Resource) Ref() ResourceRef {
	return ResourceRef{RID: r.ID, RType: r.Type}
}

// EventType is the kind of change an event stream message reports.
type EventType string

const (
	EventUpdate EventType = "update"
	EventAdd    EventType = "add"
	EventDelete EventType = "delete"
	EventError  EventType = "error"
)

// Event is one message from the bridge event stream.
type Event struct {
	ID           string     `json:"id"`
	CreationTime time.Time  `json:"creationtime"`
	Type         EventType  `json:"type"`
	Data         []Resource `json:"data"`
}
