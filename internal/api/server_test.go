package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/huelink/internal/binding"
	"github.com/dokzlo13/huelink/internal/hue"
	"github.com/dokzlo13/huelink/internal/item"
	"github.com/dokzlo13/huelink/internal/ledger"
	"github.com/dokzlo13/huelink/internal/loop"
	"github.com/dokzlo13/huelink/internal/resources"
	"github.com/dokzlo13/huelink/internal/session"
)

type fakeStatus struct {
	state session.State
	info  hue.BridgeInfo
}

func (f *fakeStatus) State() session.State { return f.state }

func (f *fakeStatus) Info() (hue.BridgeInfo, bool) {
	return f.info, f.info != (hue.BridgeInfo{})
}

type fakeCommands struct {
	entries []*ledger.Entry
	err     error
	limit   int
}

func (f *fakeCommands) Recent(limit int) ([]*ledger.Entry, error) {
	f.limit = limit
	return f.entries, f.err
}

type fixture struct {
	status   *fakeStatus
	registry *item.Registry
	cache    *resources.Cache
	commands *fakeCommands
	handler  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	l := loop.New(8, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)

	f := &fixture{
		status:   &fakeStatus{state: session.Connecting},
		registry: item.NewRegistry(nil, zerolog.Nop()),
		cache:    resources.NewCache(),
		commands: &fakeCommands{},
	}

	table := binding.NewTable()
	v, err := f.registry.Declare("desk.bri", item.Options{Initial: 20.0})
	require.NoError(t, err)
	require.NoError(t, table.Register(binding.Binding{Item: v, Key: binding.Key{ID: "l1", Resource: binding.Light, Function: "bri"}}))

	f.handler = New(Deps{
		Status:   f.status,
		Registry: f.registry,
		Bindings: table,
		Cache:    f.cache,
		Loop:     l,
		Commands: f.commands,
		Logger:   zerolog.Nop(),
	}).Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestReadyFollowsSession(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"not ready","session":"connecting"}`, rec.Body.String())

	f.status.state = session.Connected
	rec = f.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBridge(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/bridge", "")
	assert.JSONEq(t, `{"session":"connecting"}`, rec.Body.String())

	f.status.state = session.Connected
	f.status.info = hue.BridgeInfo{Name: "Hue Bridge", ModelID: "BSB002"}
	rec = f.do(t, http.MethodGet, "/bridge", "")
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "connected", body["session"])
	assert.Equal(t, "Hue Bridge", body["bridge"].(map[string]any)["name"])
}

func TestItems(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/items", "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]map[string]any](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "desk.bri", items[0]["name"])
	assert.Equal(t, 20.0, items[0]["value"])
	assert.Equal(t, "l1|light|bri", items[0]["binding"])

	rec = f.do(t, http.MethodGet, "/items/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetItemWritesWithHTTPCaller(t *testing.T) {
	f := newFixture(t)

	var callers []string
	f.registry.OnWrite(func(_ item.Item, caller string) { callers = append(callers, caller) })

	rec := f.do(t, http.MethodPut, "/items/desk.bri", `{"value": 75}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 75.0, decode[map[string]any](t, rec)["value"])
	assert.Equal(t, []string{Caller}, callers)

	rec = f.do(t, http.MethodPut, "/items/desk.bri", `{"value":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/items/missing", `{"value": 1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResources(t *testing.T) {
	f := newFixture(t)
	f.cache.Observe(hue.Resource{ID: "l1", Type: hue.TypeLight, Metadata: &hue.Metadata{Name: "Desk"}})
	f.cache.Put("l1", "light.bri", 42.0)

	rec := f.do(t, http.MethodGet, "/resources", "")
	assert.JSONEq(t, `["l1"]`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/resources/l1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[resources.Snapshot](t, rec)
	assert.Equal(t, hue.TypeLight, snap.Type)
	assert.Equal(t, 42.0, snap.Fields["light.bri"])

	rec = f.do(t, http.MethodGet, "/resources/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommands(t *testing.T) {
	f := newFixture(t)
	f.commands.entries = []*ledger.Entry{{CommandID: "c1", Outcome: ledger.OutcomeSent, ResourceType: "light", ResourceID: "l1"}}

	rec := f.do(t, http.MethodGet, "/commands", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultCommandLimit, f.commands.limit)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	f.do(t, http.MethodGet, "/commands?limit=5", "")
	assert.Equal(t, 5, f.commands.limit)

	rec = f.do(t, http.MethodGet, "/commands?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.commands.err = errors.New("disk I/O error")
	rec = f.do(t, http.MethodGet, "/commands", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
