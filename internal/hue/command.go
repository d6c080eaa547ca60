package hue

import "fmt"

// LightUpdate is the PUT body for light and grouped_light resources.
type LightUpdate struct {
	On               *On               `json:"on,omitempty"`
	Dimming          *Dimming          `json:"dimming,omitempty"`
	Color            *Color            `json:"color,omitempty"`
	ColorTemperature *ColorTemperature `json:"color_temperature,omitempty"`
	Dynamics         *Dynamics         `json:"dynamics,omitempty"`
}

// SetOn sets the on/off state.
func (u *LightUpdate) SetOn(on bool) {
	u.On = &On{On: on}
}

func (u *LightUpdate) SetBrightness(bri float64) {
	u.Dimming = &Dimming{Brightness: bri}
}

func (u *LightUpdate) SetXY(x, y float64) {
	u.Color = &Color{XY: XY{X: x, Y: y}}
}

func (u *LightUpdate) SetMirek(mirek int) {
	u.ColorTemperature = &ColorTemperature{Mirek: &mirek}
}

// SetDuration sets the transition time in milliseconds.
func (u *LightUpdate) SetDuration(ms int) {
	u.Dynamics = &Dynamics{DurationMs: ms}
}

// IsEmpty reports whether the update would change nothing.
func (u *LightUpdate) IsEmpty() bool {
	return u.On == nil && u.Dimming == nil && u.Color == nil && u.ColorTemperature == nil
}

// Merge returns u overlaid with the fields set in newer. The transition
// always comes from newer.
func (u LightUpdate) Merge(newer LightUpdate) LightUpdate {
	if newer.On != nil {
		u.On = newer.On
	}
	if newer.Dimming != nil {
		u.Dimming = newer.Dimming
	}
	if newer.Color != nil {
		u.Color = newer.Color
	}
	if newer.ColorTemperature != nil {
		u.ColorTemperature = newer.ColorTemperature
	}
	u.Dynamics = newer.Dynamics
	return u
}

type RecallAction struct {
	Action string `json:"action"`
}

// SceneRecall is the PUT body that activates a scene.
type SceneRecall struct {
	Recall RecallAction `json:"recall"`
}

// NewSceneRecall returns a body activating a scene with its stored state.
func NewSceneRecall() SceneRecall {
	return SceneRecall{Recall: RecallAction{Action: "active"}}
}

// Command is one write against a bridge resource.
type Command struct {
	ResourceType ResourceType
	ResourceID   string
	Body         any
}

func (c Command) String() string {
	return fmt.Sprintf("%s/%s", c.ResourceType, c.ResourceID)
}
