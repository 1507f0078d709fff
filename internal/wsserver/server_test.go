package wsserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/jsoncomm"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/metrics"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/topology"
)

type fixture struct {
	manager *topology.Manager
	metrics *metrics.Metrics
	server  *Server
	http    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mm := metrics.New()
	m := topology.NewManager(topology.WithMetrics(mm))
	comm, err := jsoncomm.New(m)
	require.NoError(t, err)

	s := NewServer(m, comm, Config{PongTimeout: 5 * time.Second}, WithMetrics(mm))
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
		ts.Close()
	})
	return &fixture{manager: m, metrics: mm, server: s, http: ts}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func receive(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	return string(data)
}

const (
	publisherConfig  = `{"config": {"name": "client1", "publish": {"messages": [{"name": "pub1_1", "type": "string", "default": ""}]}, "subscribe": {"messages": []}}}`
	subscriberConfig = `{"config": {"name": "client2", "publish": {"messages": []}, "subscribe": {"messages": [{"name": "sub2_1", "type": "string"}]}}}`
	addRoute         = `{"route": {"type": "add",
		"publisher": {"clientName": "client1", "name": "pub1_1", "type": "string", "remoteAddress": "127.0.0.1"},
		"subscriber": {"clientName": "client2", "name": "sub2_1", "type": "string", "remoteAddress": "127.0.0.1"}}}`
)

func TestServer_RoutesMessagesBetweenConnections(t *testing.T) {
	f := newFixture(t)
	pub, sub, admin := f.dial(t), f.dial(t), f.dial(t)

	send(t, admin, `{"admin": true}`)
	assert.JSONEq(t, `[]`, receive(t, admin))

	send(t, pub, publisherConfig)
	receive(t, admin)
	send(t, sub, subscriberConfig)
	receive(t, admin)
	send(t, admin, addRoute)
	route := receive(t, admin)
	assert.Contains(t, route, `"type":"add"`)
	require.Len(t, f.manager.GetConnections(), 1)

	send(t, pub, `{"message": {"clientName": "client1", "name": "pub1_1", "type": "string", "value": "hello"}}`)

	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(receive(t, sub)), &got))
	assert.Equal(t, "sub2_1", got["message"]["name"])
	assert.Equal(t, "hello", got["message"]["value"])
	assert.Equal(t, "client2", got["message"]["clientName"])

	published := receive(t, admin)
	assert.Contains(t, published, `"targetType":"admin"`)
	assert.Contains(t, published, `"value":"hello"`)
}

func TestServer_CloseRemovesRegistrations(t *testing.T) {
	f := newFixture(t)
	pub, admin := f.dial(t), f.dial(t)

	send(t, admin, `{"admin": true}`)
	receive(t, admin)
	send(t, pub, publisherConfig)
	receive(t, admin)
	require.Len(t, f.manager.GetClients(), 1)
	assert.Equal(t, 2, f.server.Connections())

	require.NoError(t, pub.Close())
	assert.Eventually(t, func() bool { return len(f.manager.GetClients()) == 0 }, 2*time.Second, 10*time.Millisecond)

	removed := receive(t, admin)
	assert.Contains(t, removed, `"remove"`)

	require.NoError(t, admin.Close())
	assert.Eventually(t, func() bool { return f.manager.Admins() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return f.server.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_StaleCloseKeepsReplacement(t *testing.T) {
	f := newFixture(t)
	first := f.dial(t)

	send(t, first, publisherConfig)
	require.Eventually(t, func() bool { return len(f.manager.GetClients()) == 1 }, 2*time.Second, 10*time.Millisecond)
	oldID := f.manager.GetClients()[0].ID

	// an operator removes the client and the device comes back on a new socket
	require.True(t, f.manager.RemoveClient(topology.LeafByID(oldID)))
	second := f.dial(t)
	send(t, second, publisherConfig)
	require.Eventually(t, func() bool { return len(f.manager.GetClients()) == 1 }, 2*time.Second, 10*time.Millisecond)
	newID := f.manager.GetClients()[0].ID
	require.NotEqual(t, oldID, newID)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return f.server.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	clients := f.manager.GetClients()
	require.Len(t, clients, 1, "closing the old socket must not remove the new registration")
	assert.Equal(t, newID, clients[0].ID)
}

func TestServer_InvalidMessagesAreCounted(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)

	send(t, ws, `not json`)
	send(t, ws, `{"config": {}}`)
	send(t, ws, publisherConfig)

	assert.Eventually(t, func() bool { return len(f.manager.GetClients()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.InvalidMessages.WithLabelValues(transportName)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TransportConnections.WithLabelValues(transportName)))
}

func TestServer_StopClosesConnections(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)
	send(t, ws, publisherConfig)
	assert.Eventually(t, func() bool { return len(f.manager.GetClients()) == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.server.Stop(ctx))

	assert.Empty(t, f.manager.GetClients())
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}

func TestConn_SendQueueFull(t *testing.T) {
	c := &conn{out: make(chan []byte, 1), done: make(chan struct{})}
	require.NoError(t, c.Send(map[string]string{"a": "b"}))
	assert.ErrorIs(t, c.Send(map[string]string{"a": "b"}), ErrSendQueueFull)

	close(c.done)
	assert.ErrorIs(t, c.Send(map[string]string{"a": "b"}), ErrConnectionClosed)
}
