package hue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)
	addr := strings.TrimPrefix(srv.URL, "https://")
	return NewClient(addr, "secret", 5*time.Second)
}

func TestClientEnumerate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/clip/v2/resource/light", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get(appKeyHeader))
		io.WriteString(w, `{"errors":[],"data":[
			{"id":"l1","type":"light","owner":{"rid":"d1","rtype":"device"},
			 "on":{"on":true},"dimming":{"brightness":42.5},
			 "color":{"xy":{"x":0.3,"y":0.4}},"color_temperature":{"mirek":null}}
		]}`)
	})

	lights, err := c.Enumerate(context.Background(), TypeLight)
	require.NoError(t, err)
	require.Len(t, lights, 1)

	l := lights[0]
	assert.Equal(t, "l1", l.ID)
	assert.Equal(t, "d1", l.Owner.RID)
	assert.True(t, l.On.On)
	assert.Equal(t, 42.5, l.Dimming.Brightness)
	assert.Equal(t, 0.4, l.Color.XY.Y)
	require.NotNil(t, l.ColorTemperature)
	assert.Nil(t, l.ColorTemperature.Mirek)
}

func TestClientSend(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPut, r.Method)
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"errors":[],"data":[{"rid":"g1","rtype":"grouped_light"}]}`)
	})

	var u LightUpdate
	u.SetOn(true)
	u.SetDuration(400)
	err := c.Send(context.Background(), Command{ResourceType: TypeGroupedLight, ResourceID: "g1", Body: u})
	require.NoError(t, err)

	assert.Equal(t, "/clip/v2/resource/grouped_light/g1", gotPath)
	assert.Equal(t, map[string]any{"on": true}, gotBody["on"])
	assert.Equal(t, map[string]any{"duration": float64(400)}, gotBody["dynamics"])
	assert.NotContains(t, gotBody, "dimming")
}

func TestClientErrors(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
		err := c.Check(context.Background())
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("rejected", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"errors":[{"description":"invalid value 120 for brightness"}],"data":[]}`)
		})
		err := c.Send(context.Background(), Command{ResourceType: TypeLight, ResourceID: "l1", Body: LightUpdate{}})

		var rejected *BridgeRejected
		require.True(t, errors.As(err, &rejected))
		assert.Equal(t, http.StatusBadRequest, rejected.Status)
		assert.Contains(t, rejected.Error(), "invalid value 120")
	})

	t.Run("transport", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.NotFoundHandler())
		addr := strings.TrimPrefix(srv.URL, "https://")
		srv.Close()

		c := NewClient(addr, "secret", time.Second)
		_, err := c.Enumerate(context.Background(), TypeLight)

		var transport *TransportError
		assert.True(t, errors.As(err, &transport))
	})
}

func TestDecodeEvents(t *testing.T) {
	frame := []byte(`[
		{"creationtime":"2024-01-02T10:00:00Z","id":"e1","type":"update","data":[
			{"id":"b1","type":"button","owner":{"rid":"d9","rtype":"device"},
			 "button":{"last_event":"short_release","button_report":{"event":"short_release","updated":"2024-01-02T10:00:00Z"}}},
			{"id":"s1","type":"scene","status":{"active":"static"}}
		]},
		{"creationtime":"2024-01-02T10:00:01Z","id":"e2","type":"update","data":[
			{"id":"z1","type":"zigbee_connectivity","owner":{"rid":"d9","rtype":"device"},"status":"connectivity_issue"}
		]}
	]`)

	batch, err := DecodeEvents(frame)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	assert.Equal(t, EventUpdate, batch[0].Type)
	assert.Equal(t, "short_release", batch[0].Data[0].Button.Event())
	assert.Equal(t, Status(""), batch[0].Data[1].Status)
	assert.Equal(t, Status("connectivity_issue"), batch[1].Data[0].Status)
}

func TestButtonEventFallsBackToReport(t *testing.T) {
	b := &Button{ButtonReport: &ButtonReport{Event: "long_release"}}
	assert.Equal(t, "long_release", b.Event())

	var nilButton *Button
	assert.Equal(t, "", nilButton.Event())
}
