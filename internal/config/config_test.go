package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/huelink/internal/binding"
)

const minimal = `
hue:
  bridge: 192.168.1.2
  token: secret
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "./huelink.sqlite", cfg.Database.Path)
	assert.Equal(t, 10*time.Second, cfg.Hue.Timeout.Duration())
	assert.Equal(t, time.Second, cfg.Hue.MinRetryBackoff.Duration())
	assert.Equal(t, 2*time.Minute, cfg.Hue.MaxRetryBackoff.Duration())
	assert.Equal(t, 2.0, cfg.Hue.RetryMultiplier)
	assert.Equal(t, "huelink", cfg.Plugin.Identity)
	require.NotNil(t, cfg.Plugin.DefaultTransitionTime)
	assert.Equal(t, 0.4, cfg.Plugin.TransitionSeconds())
	assert.Equal(t, 30, cfg.Ledger.RetentionDays)
	assert.Equal(t, "0.0.0.0:9090", cfg.API.Addr())
	assert.Equal(t, 10*time.Second, cfg.RestartBackoff.Duration())
}

func TestParseItems(t *testing.T) {
	cfg, err := Parse([]byte(minimal + `
plugin:
  default_transition_time: 1.5
items:
  - name: desk.bri
    resource: light
    id: 3f1c
    function: bri
    transition_time: 0.2
  - name: living.scene
    resource: scene
    function: activate_scene
    initial: ""
  - name: counter
    enforce_updates: true
    initial: 3
`))
	require.NoError(t, err)
	require.Len(t, cfg.Items, 3)

	assert.Equal(t, 1.5, cfg.Plugin.TransitionSeconds())

	key, err := cfg.Items[0].Key()
	require.NoError(t, err)
	assert.Equal(t, binding.Key{ID: "3f1c", Resource: binding.Light, Function: "bri"}, key)
	require.NotNil(t, cfg.Items[0].TransitionTime)
	assert.Equal(t, 0.2, *cfg.Items[0].TransitionTime)

	assert.True(t, cfg.Items[1].Bound())
	assert.False(t, cfg.Items[2].Bound())
	assert.True(t, cfg.Items[2].EnforceUpdates)
	assert.Equal(t, 3, cfg.Items[2].Initial)
}

func TestParseKeepsZeroTransition(t *testing.T) {
	cfg, err := Parse([]byte(minimal + "plugin:\n  default_transition_time: 0\n"))
	require.NoError(t, err)

	require.NotNil(t, cfg.Plugin.DefaultTransitionTime)
	assert.Equal(t, 0.0, cfg.Plugin.TransitionSeconds())
}

func TestParseExpandsEnv(t *testing.T) {
	t.Setenv("HUE_TOKEN", "from-env")

	cfg, err := Parse([]byte(`
hue:
  bridge: ${HUE_BRIDGE:hue.local}
  token: ${HUE_TOKEN}
`))
	require.NoError(t, err)
	assert.Equal(t, "hue.local", cfg.Hue.Bridge)
	assert.Equal(t, "from-env", cfg.Hue.Token)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing bridge",
			yaml:    "hue:\n  token: x\n",
			wantErr: "hue.bridge is required",
		},
		{
			name:    "unknown resource",
			yaml:    minimal + "items:\n  - {name: a, resource: lamp, id: x, function: on}\n",
			wantErr: "unknown resource namespace",
		},
		{
			name:    "missing function",
			yaml:    minimal + "items:\n  - {name: a, resource: light, id: x}\n",
			wantErr: "function is required",
		},
		{
			name:    "missing id",
			yaml:    minimal + "items:\n  - {name: a, resource: group, function: on}\n",
			wantErr: "id is required",
		},
		{
			name:    "scene activate without id",
			yaml:    minimal + "items:\n  - {name: a, resource: scene, function: activate}\n",
			wantErr: "id is required",
		},
		{
			name:    "negative default transition",
			yaml:    minimal + "plugin:\n  default_transition_time: -1\n",
			wantErr: "must not be negative",
		},
		{
			name:    "duplicate item",
			yaml:    minimal + "items:\n  - {name: a}\n  - {name: a}\n",
			wantErr: "declared twice",
		},
		{
			name:    "mqtt without broker",
			yaml:    minimal + "mqtt:\n  enabled: true\n",
			wantErr: "mqtt.broker is required",
		},
		{
			name:    "bad duration",
			yaml:    minimal + "restart_backoff: soon\n",
			wantErr: "invalid duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAllowsSharedKeys(t *testing.T) {
	_, err := Parse([]byte(minimal + `
items:
  - {name: a, resource: light, id: l1, function: on}
  - {name: b, resource: light, id: l1, function: on}
`))
	assert.NoError(t, err)
}
