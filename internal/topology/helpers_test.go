package topology

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

// delivery records one call of a client's send function.
type delivery struct {
	client   string
	endpoint string
	msgType  string
	payload  any
}

// inbox collects deliveries across clients.
type inbox struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (in *inbox) sender(client string) topology.SendFunc {
	return func(endpoint, msgType string, payload any) error {
		in.mu.Lock()
		defer in.mu.Unlock()
		in.deliveries = append(in.deliveries, delivery{client, endpoint, msgType, payload})
		return nil
	}
}

func (in *inbox) all() []delivery {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]delivery(nil), in.deliveries...)
}

// recorder is an admin sink that keeps every notification.
type recorder struct {
	mu    sync.Mutex
	notes []topology.Notification
}

func (r *recorder) Notify(n topology.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) all() []topology.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]topology.Notification(nil), r.notes...)
}

func (r *recorder) last(t *testing.T) topology.Notification {
	t.Helper()
	notes := r.all()
	require.NotEmpty(t, notes, "no notifications recorded")
	return notes[len(notes)-1]
}

func noopSend(string, string, any) error { return nil }

func newLeaf(t *testing.T, cfg LeafConfig, send topology.SendFunc) *Leaf {
	t.Helper()
	if send == nil {
		send = noopSend
	}
	leaf, err := NewLeaf(cfg, send)
	require.NoError(t, err)
	return leaf
}

// client1 publishes pub1_1 and client2 subscribes with sub2_1, both strings.
func client1(t *testing.T, send topology.SendFunc) *Leaf {
	return newLeaf(t, LeafConfig{
		Name:       "client1",
		Metadata:   map[string]any{"ip": "127.0.0.1"},
		Publishers: []Publisher{{Name: "pub1_1", Type: "string", Default: "hi"}},
	}, send)
}

func client2(t *testing.T, send topology.SendFunc) *Leaf {
	return newLeaf(t, LeafConfig{
		Name:        "client2",
		Metadata:    map[string]any{"ip": "127.0.0.1"},
		Subscribers: []Subscriber{{Name: "sub2_1", Type: "string"}},
	}, send)
}

func stringRoute(t *testing.T, fromName, pub, toName, sub string) *Route {
	t.Helper()
	r, err := NewRoute(StringSpec{
		Type: "string",
		From: NamedEndpoint{Name: fromName, Metadata: topology.Metadata{"ip": "127.0.0.1"}, Endpoint: pub},
		To:   NamedEndpoint{Name: toName, Metadata: topology.Metadata{"ip": "127.0.0.1"}, Endpoint: sub},
	})
	require.NoError(t, err)
	return r
}

func route1(t *testing.T) *Route {
	return stringRoute(t, "client1", "pub1_1", "client2", "sub2_1")
}
