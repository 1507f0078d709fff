package main

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/grpcapi"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/httpapi"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/topology"
)

type testBroker struct {
	manager *topology.Manager
	http    *httptest.Server
	token   string
}

func newTestBroker(t *testing.T) *testBroker {
	t.Helper()
	manager := topology.NewManager()
	api := httpapi.NewServer(manager, httpapi.Config{SecretKey: "test-secret-key"})
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = api.Link().Close()
	})

	out, err := execute(t, "--server", ts.URL, "auth")
	require.NoError(t, err)
	var tok string
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "Token: "); ok {
			tok = rest
		}
	}
	require.NotEmpty(t, tok)
	return &testBroker{manager: manager, http: ts, token: tok}
}

// execute runs the CLI with args and returns its standard output
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func (b *testBroker) run(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, append([]string{"--server", b.http.URL, "--token", b.token}, args...)...)
	require.NoError(t, err, out)
	return out
}

func addLeaf(t *testing.T, m *topology.Manager, name string, pubs, subs []topology.Publisher) *topology.Leaf {
	t.Helper()
	subscribers := make([]topology.Subscriber, len(subs))
	for i, s := range subs {
		subscribers[i] = topology.Subscriber{Name: s.Name, Type: s.Type}
	}
	leaf, err := topology.NewLeaf(topology.LeafConfig{
		Name:        name,
		Metadata:    map[string]any{"ip": "10.0.0.1"},
		Publishers:  pubs,
		Subscribers: subscribers,
	}, func(string, string, any) error { return nil })
	require.NoError(t, err)
	require.True(t, m.AddClient(leaf))
	return leaf
}

func TestCLI_RequiresAuthentication(t *testing.T) {
	b := newTestBroker(t)

	_, err := execute(t, "--server", b.http.URL, "--token", "", "clients")
	assert.ErrorContains(t, err, "not authenticated")

	out, err := execute(t, "--server", b.http.URL, "--token", "", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Broker is healthy")
}

func TestCLI_ClientsAndRoutes(t *testing.T) {
	b := newTestBroker(t)
	out := b.run(t, "clients")
	assert.Contains(t, out, "No clients registered")

	sensor := addLeaf(t, b.manager, "sensor", []topology.Publisher{{Name: "reading", Type: "string"}}, nil)
	display := addLeaf(t, b.manager, "display", nil, []topology.Publisher{{Name: "show", Type: "string"}})

	out = b.run(t, "clients")
	assert.Contains(t, out, "Found 2 client(s)")
	assert.Contains(t, out, "sensor ("+sensor.ID()+")")
	assert.Contains(t, out, "Metadata: ip=10.0.0.1")
	assert.Contains(t, out, "Publishes: reading (string)")
	assert.Contains(t, out, "Subscribes: show (string)")

	out = b.run(t, "clients", "show", display.ID())
	assert.Contains(t, out, "display ("+display.ID()+")")

	out = b.run(t, "routes", "add", "--type", "string",
		"--from", "sensor", "--from-endpoint", "reading", "--from-ip", "10.0.0.1",
		"--to", "display", "--to-endpoint", "show", "--to-ip", "10.0.0.1")
	assert.Contains(t, out, "added")
	require.Len(t, b.manager.GetConnections(), 1)

	out = b.run(t, "routes", "add", "--type", "string",
		"--from", "sensor", "--from-endpoint", "reading", "--from-ip", "10.0.0.1",
		"--to", "display", "--to-endpoint", "show", "--to-ip", "10.0.0.1")
	assert.Contains(t, out, "An equal route already exists")

	path := filepath.Join(t.TempDir(), "route.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
style: uuid
type: string
from: {uuid: `+sensor.ID()+`, endpoint: reading}
to: {uuid: `+display.ID()+`, endpoint: show}
`), 0o600))
	b.run(t, "routes", "add", "--file", path)

	routes := b.manager.GetRoutes()
	require.Len(t, routes, 2)
	out = b.run(t, "routes")
	assert.Contains(t, out, "Found 2 route(s)")
	assert.Contains(t, out, routes[0].ID+" [string, string]")

	out = b.run(t, "connections")
	assert.Contains(t, out, "Found 1 connection(s)")
	assert.Contains(t, out, sensor.ID()+".reading -> "+display.ID()+".show (string)")

	out = b.run(t, "stats")
	assert.Contains(t, out, "Clients: 2")
	assert.Contains(t, out, "Routes: 2")

	b.run(t, "routes", "rm", routes[0].ID)
	_, err := execute(t, "--server", b.http.URL, "--token", b.token, "routes", "rm", routes[0].ID)
	assert.ErrorContains(t, err, "404")

	b.run(t, "clients", "rm", sensor.ID())
	assert.Len(t, b.manager.GetClients(), 1)
	assert.Empty(t, b.manager.GetConnections())
}

func TestCLI_InvalidRoute(t *testing.T) {
	b := newTestBroker(t)
	_, err := execute(t, "--server", b.http.URL, "--token", b.token,
		"routes", "add", "--style", "bogus", "--type", "string")
	assert.ErrorContains(t, err, "400")
}

func TestCLI_Watch(t *testing.T) {
	manager := topology.NewManager()
	control := grpcapi.NewServer(manager, grpcapi.Config{})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = control.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = control.Stop(ctx)
	})

	addLeaf(t, manager, "sensor", []topology.Publisher{{Name: "reading", Type: "string"}}, nil)

	root := newRootCommand()
	var out syncBuffer
	root.SetOut(&out)
	root.SetArgs([]string{"watch", "--grpc", lis.Addr().String()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool { return manager.Stats().Admins == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "client sensor") }, 2*time.Second, 10*time.Millisecond)

	// stopping the server ends the stream with an error
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, control.Stop(stopCtx))
	cancel()

	select {
	case err := <-done:
		if err != nil {
			assert.ErrorContains(t, err, "watch failed")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not return")
	}
	assert.Contains(t, out.String(), "#1 add")
}

// syncBuffer is a bytes.Buffer safe for a concurrent writer and reader
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
