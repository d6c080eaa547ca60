// Package translate turns item writes into bridge commands.
package translate

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/dokzlo13/huelink/internal/binding"
	"github.com/dokzlo13/huelink/internal/hue"
)

var (
	// ErrMalformedInput is returned when an item value has the wrong type or shape.
	ErrMalformedInput = errors.New("malformed input")
	// ErrNotImplemented is returned for resource/function pairs with no command.
	ErrNotImplemented = errors.New("not implemented")
	// ErrReadOnly is returned for namespaces that only ever flow from the bridge.
	ErrReadOnly = fmt.Errorf("%w: resource is read-only", ErrNotImplemented)
)

// Defaults are the plugin-wide translation settings.
type Defaults struct {
	TransitionTime time.Duration
}

// TransitionFromSeconds converts a transition in seconds to the millisecond
// precision the bridge accepts.
func TransitionFromSeconds(sec float64) time.Duration {
	return time.Duration(int(sec*1000)) * time.Millisecond
}

// Translate builds the command for writing value to b. A nil command with a
// nil error means there is nothing to send.
func Translate(b binding.Binding, value any, defaults Defaults) (*hue.Command, error) {
	transition := defaults.TransitionTime
	if b.TransitionTime != nil {
		transition = *b.TransitionTime
	}

	switch b.Key.Resource {
	case binding.Light:
		return translateLight(b.Key, value, transition, hue.TypeLight, false)
	case binding.Group:
		return translateLight(b.Key, value, transition, hue.TypeGroupedLight, true)
	case binding.Scene:
		return translateScene(b.Key, value)
	case binding.Sensor, binding.Button, binding.DevicePower:
		return nil, fmt.Errorf("%s/%s: %w", b.Key.Resource, b.Key.Function, ErrReadOnly)
	}
	return nil, fmt.Errorf("%s/%s: %w", b.Key.Resource, b.Key.Function, ErrNotImplemented)
}

// translateLight serves both lights and grouped lights. Groups switch on
// whenever brightness or color is set.
func translateLight(key binding.Key, value any, transition time.Duration, rtype hue.ResourceType, group bool) (*hue.Command, error) {
	var u hue.LightUpdate

	switch key.Function {
	case "on":
		on, err := toBool(value)
		if err != nil {
			return nil, malformed(key, err)
		}
		u.SetOn(on)
	case "bri":
		bri, err := toFloat(value)
		if err != nil {
			return nil, malformed(key, err)
		}
		if group {
			u.SetOn(true)
		}
		u.SetBrightness(bri)
	case "xy":
		x, y, err := toPair(value)
		if err != nil {
			return nil, malformed(key, err)
		}
		if group {
			u.SetOn(true)
		}
		u.SetXY(x, y)
	case "ct":
		mirek, err := toInt(value)
		if err != nil {
			return nil, malformed(key, err)
		}
		if group {
			u.SetOn(true)
		}
		u.SetMirek(mirek)
	case "dict":
		m, ok := value.(map[string]any)
		if !ok {
			return nil, malformed(key, fmt.Errorf("expected a mapping, got %T", value))
		}
		if len(m) == 0 {
			return nil, nil
		}
		t, err := applyDict(&u, m)
		if err != nil {
			return nil, malformed(key, err)
		}
		if t != nil {
			transition = *t
		}
		if u.IsEmpty() {
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("%s/%s: %w", key.Resource, key.Function, ErrNotImplemented)
	}

	u.SetDuration(int(transition / time.Millisecond))
	return &hue.Command{ResourceType: rtype, ResourceID: key.ID, Body: u}, nil
}

// applyDict merges a composite value into u. Any truthy bri, xy or ct forces
// the light on. It returns the embedded transition time, if any.
func applyDict(u *hue.LightUpdate, m map[string]any) (*time.Duration, error) {
	forceOn := false

	if v, ok := m["bri"]; ok && v != nil {
		bri, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("bri: %w", err)
		}
		u.SetBrightness(bri)
		forceOn = forceOn || bri != 0
	}
	if v, ok := m["xy"]; ok && v != nil {
		x, y, err := toPair(v)
		if err != nil {
			return nil, fmt.Errorf("xy: %w", err)
		}
		u.SetXY(x, y)
		forceOn = true
	}
	if v, ok := m["ct"]; ok && v != nil {
		ct, err := toInt(v)
		if err != nil {
			return nil, fmt.Errorf("ct: %w", err)
		}
		u.SetMirek(ct)
		forceOn = forceOn || ct != 0
	}

	if v, ok := m["on"]; ok && v != nil {
		on, err := toBool(v)
		if err != nil {
			return nil, fmt.Errorf("on: %w", err)
		}
		u.SetOn(on)
	}
	if forceOn {
		u.SetOn(true)
	}

	if v, ok := m["transition_time"]; ok && v != nil {
		sec, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("transition_time: %w", err)
		}
		t := TransitionFromSeconds(sec)
		return &t, nil
	}
	return nil, nil
}

func translateScene(key binding.Key, value any) (*hue.Command, error) {
	switch key.Function {
	case "activate":
		return &hue.Command{ResourceType: hue.TypeScene, ResourceID: key.ID, Body: hue.NewSceneRecall()}, nil
	case "activate_scene":
		id, ok := value.(string)
		if !ok || id == "" {
			return nil, malformed(key, fmt.Errorf("expected a scene id, got %v", value))
		}
		return &hue.Command{ResourceType: hue.TypeScene, ResourceID: id, Body: hue.NewSceneRecall()}, nil
	}
	return nil, fmt.Errorf("%s/%s: %w", key.Resource, key.Function, ErrNotImplemented)
}

func malformed(key binding.Key, err error) error {
	return fmt.Errorf("%s/%s: %w: %v", key.Resource, key.Function, ErrMalformedInput, err)
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch t {
		case "on", "ON":
			return true, nil
		case "off", "OFF":
			return false, nil
		}
		return strconv.ParseBool(t)
	}
	if f, err := toFloat(v); err == nil {
		return f != 0, nil
	}
	return false, fmt.Errorf("expected a boolean, got %T", v)
}

func toFloat(v any) (float64, error) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case uint8:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("expected a number, got %q", t)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expected a finite number, got %v", f)
	}
	return f, nil
}

func toInt(v any) (int, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func toPair(v any) (float64, float64, error) {
	var items []any
	switch t := v.(type) {
	case []float64:
		for _, f := range t {
			items = append(items, f)
		}
	case [2]float64:
		items = []any{t[0], t[1]}
	case []any:
		items = t
	default:
		return 0, 0, fmt.Errorf("expected a 2-element list, got %T", v)
	}
	if len(items) != 2 {
		return 0, 0, fmt.Errorf("expected a 2-element list, got %d elements", len(items))
	}
	x, err := toFloat(items[0])
	if err != nil {
		return 0, 0, err
	}
	y, err := toFloat(items[1])
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}
