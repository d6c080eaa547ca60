package translate

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/huelink/internal/binding"
	"github.com/dokzlo13/huelink/internal/hue"
	"github.com/dokzlo13/huelink/internal/item"
	"github.com/dokzlo13/huelink/internal/ledger"
	"github.com/dokzlo13/huelink/internal/loop"
)

const identity = "huelink"

type fakeBridge struct {
	mu   sync.Mutex
	sent []hue.Command
	err  error
}

func (f *fakeBridge) Subscribe(hue.EventHandler) func() { return func() {} }
func (f *fakeBridge) Enumerate(context.Context, hue.ResourceType) ([]hue.Resource, error) {
	return nil, nil
}
func (f *fakeBridge) Info() hue.BridgeInfo { return hue.BridgeInfo{} }
func (f *fakeBridge) Done() <-chan error { return nil }
func (f *fakeBridge) Close() {}

func (f *fakeBridge) Send(_ context.Context, cmd hue.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return f.err
}

func (f *fakeBridge) commands() []hue.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hue.Command(nil), f.sent...)
}

type fakeLink struct {
	bridge hue.Bridge
}

func (l *fakeLink) Bridge() hue.Bridge { return l.bridge }

type fakeRecorder struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (r *fakeRecorder) Append(e ledger.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

type harness struct {
	table    *binding.Table
	reg      *item.Registry
	loop     *loop.Loop
	bridge   *fakeBridge
	link     *fakeLink
	recorder *fakeRecorder
	logs     *bytes.Buffer
	tr       *Translator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithConfig(t, Config{
		Identity: identity,
		Defaults: Defaults{TransitionTime: 400 * time.Millisecond},
	})
}

func newHarnessWithConfig(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		table:    binding.NewTable(),
		reg:      item.NewRegistry(nil, zerolog.Nop()),
		loop:     loop.New(16, zerolog.Nop()),
		bridge:   &fakeBridge{},
		recorder: &fakeRecorder{},
		logs:     &bytes.Buffer{},
	}
	h.link = &fakeLink{bridge: h.bridge}
	h.tr = NewTranslator(h.table, h.loop, h.link, h.recorder, cfg, zerolog.New(h.logs))
	h.reg.OnWrite(h.tr.OnItemWrite)
	return h
}

func (h *harness) bind(t *testing.T, name string, key binding.Key) *item.Value {
	t.Helper()
	v, err := h.reg.Declare(name, item.Options{})
	require.NoError(t, err)
	require.NoError(t, h.table.Register(binding.Binding{Item: v, Key: key}))
	return v
}

// runLoop processes everything queued so far.
func (h *harness) runLoop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.loop.Run(ctx)
		close(done)
	}()
	require.NoError(t, h.loop.DoSyncWithResult(ctx, func(context.Context) error { return nil }))
	cancel()
	<-done
}

func (h *harness) logLines() []string {
	s := strings.TrimSpace(h.logs.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestTranslatorSendsExternalWrites(t *testing.T) {
	h := newHarness(t)
	v := h.bind(t, "desk.bri", binding.Key{ID: "l1", Resource: binding.Light, Function: "bri"})

	v.Write(55, "http")
	h.runLoop(t)

	cmds := h.bridge.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "l1", cmds[0].ResourceID)
	assert.Equal(t, 55.0, cmds[0].Body.(hue.LightUpdate).Dimming.Brightness)

	require.Len(t, h.recorder.entries, 1)
	assert.Equal(t, ledger.OutcomeSent, h.recorder.entries[0].Outcome)
	assert.Equal(t, "desk.bri", h.recorder.entries[0].Item)
}

func TestTranslatorIgnoresOwnWrites(t *testing.T) {
	h := newHarness(t)
	v := h.bind(t, "desk.on", binding.Key{ID: "l1", Resource: binding.Light, Function: "on"})

	v.Write(true, identity)
	h.runLoop(t)

	assert.Empty(t, h.bridge.commands())
	assert.Empty(t, h.recorder.entries)
}

func TestTranslatorIgnoresWritesWithoutSession(t *testing.T) {
	h := newHarness(t)
	h.link.bridge = nil
	v := h.bind(t, "desk.on", binding.Key{ID: "l1", Resource: binding.Light, Function: "on"})

	v.Write(true, "http")
	h.runLoop(t)

	assert.Empty(t, h.bridge.commands())
}

func TestTranslatorMalformedXYLogsOnce(t *testing.T) {
	h := newHarness(t)
	v := h.bind(t, "desk.xy", binding.Key{ID: "l1", Resource: binding.Light, Function: "xy"})

	v.Write([]any{0.3}, "http")
	h.runLoop(t)

	assert.Empty(t, h.bridge.commands())
	lines := h.logLines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "malformed input")
}

func TestTranslatorReadOnlyLogsOnce(t *testing.T) {
	h := newHarness(t)
	v := h.bind(t, "remote.event", binding.Key{ID: "b1", Resource: binding.Button, Function: "event"})

	v.Write("short_release", "http")
	h.runLoop(t)

	assert.Empty(t, h.bridge.commands())
	lines := h.logLines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Function not implemented")
}

func TestTranslatorCoalescesQueuedWrites(t *testing.T) {
	h := newHarness(t)
	v := h.bind(t, "desk.bri", binding.Key{ID: "l1", Resource: binding.Light, Function: "bri"})

	// the loop is not running yet, so all three writes queue up
	v.Write(10, "http")
	v.Write(20, "http")
	v.Write(30, "http")
	h.runLoop(t)

	cmds := h.bridge.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, 30.0, cmds[0].Body.(hue.LightUpdate).Dimming.Brightness)
}

func TestTranslatorMergesQueuedDictWrites(t *testing.T) {
	h := newHarness(t)
	v := h.bind(t, "desk.dict", binding.Key{ID: "l1", Resource: binding.Light, Function: "dict"})

	v.Write(map[string]any{"xy": []any{0.3, 0.6}, "transition_time": 2.0}, "http")
	v.Write(map[string]any{"bri": 50}, "http")
	h.runLoop(t)

	cmds := h.bridge.commands()
	require.Len(t, cmds, 1)
	u := cmds[0].Body.(hue.LightUpdate)
	require.NotNil(t, u.Color)
	assert.Equal(t, hue.XY{X: 0.3, Y: 0.6}, u.Color.XY)
	require.NotNil(t, u.Dimming)
	assert.Equal(t, 50.0, u.Dimming.Brightness)
	require.NotNil(t, u.On)
	assert.True(t, u.On.On)
	require.NotNil(t, u.Dynamics)
	assert.Equal(t, 400, u.Dynamics.DurationMs)
}

func TestTranslatorDictMergeLaterFieldWins(t *testing.T) {
	h := newHarness(t)
	v := h.bind(t, "desk.dict", binding.Key{ID: "l1", Resource: binding.Light, Function: "dict"})

	v.Write(map[string]any{"bri": 80, "ct": 300}, "http")
	v.Write(map[string]any{"bri": 20, "on": false}, "http")
	h.runLoop(t)

	cmds := h.bridge.commands()
	require.Len(t, cmds, 1)
	u := cmds[0].Body.(hue.LightUpdate)
	assert.Equal(t, 20.0, u.Dimming.Brightness)
	require.NotNil(t, u.ColorTemperature)
	assert.Equal(t, 300, *u.ColorTemperature.Mirek)
	// bri 20 forces the light on, same as a single write would
	assert.True(t, u.On.On)
}

func TestTranslatorRecordsAbortedRateLimitWait(t *testing.T) {
	h := newHarnessWithConfig(t, Config{Identity: identity, RateLimit: 1})
	v := h.bind(t, "desk.on", binding.Key{ID: "l1", Resource: binding.Light, Function: "on"})

	v.Write(true, "http")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.loop.Run(ctx)

	assert.Empty(t, h.bridge.commands())
	require.Len(t, h.recorder.entries, 1)
	assert.Equal(t, ledger.OutcomeDropped, h.recorder.entries[0].Outcome)
	assert.Contains(t, h.logs.String(), "Rate limit wait aborted")
}

func TestTranslatorRecordsRejection(t *testing.T) {
	h := newHarness(t)
	h.bridge.err = &hue.BridgeRejected{Status: 400, Errors: []hue.HueError{{Description: "out of range"}}}
	v := h.bind(t, "desk.ct", binding.Key{ID: "l1", Resource: binding.Light, Function: "ct"})

	v.Write(9999, "mqtt")
	h.runLoop(t)

	require.Len(t, h.recorder.entries, 1)
	assert.Equal(t, ledger.OutcomeRejected, h.recorder.entries[0].Outcome)
	assert.Contains(t, h.recorder.entries[0].Error, "out of range")
	assert.Contains(t, h.logs.String(), `"level":"warn"`)
}

func TestTranslatorRecordsTransportFailure(t *testing.T) {
	h := newHarness(t)
	h.bridge.err = &hue.TransportError{Op: "update light/l1", Err: context.DeadlineExceeded}
	v := h.bind(t, "desk.on", binding.Key{ID: "l1", Resource: binding.Light, Function: "on"})

	v.Write(true, "mqtt")
	h.runLoop(t)

	require.Len(t, h.recorder.entries, 1)
	assert.Equal(t, ledger.OutcomeFailed, h.recorder.entries[0].Outcome)
	assert.Contains(t, h.logs.String(), `"level":"error"`)
}
