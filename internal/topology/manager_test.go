package topology

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/metrics"
	"github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

func TestManager_AddClientIsIdempotent(t *testing.T) {
	m := NewManager()
	leaf := client1(t, nil)

	assert.True(t, m.AddClient(leaf))
	assert.False(t, m.AddClient(leaf))
	assert.Len(t, m.GetClients(), 1)

	// same name and metadata is the same client
	twin := client1(t, nil)
	assert.False(t, m.AddClient(twin))
	assert.Len(t, m.GetClients(), 1)

	// different metadata is a different client
	other := newLeaf(t, LeafConfig{Name: "client1", Metadata: map[string]any{"ip": "10.0.0.1"}}, nil)
	assert.True(t, m.AddClient(other))
	assert.Len(t, m.GetClients(), 2)

	assert.False(t, m.AddClient(nil))
}

func TestManager_AddRouteIsIdempotent(t *testing.T) {
	m := NewManager()
	assert.True(t, m.AddRoute(route1(t)))
	assert.False(t, m.AddRoute(route1(t)), "a route with the same rule is a duplicate")
	assert.Len(t, m.GetRoutes(), 1)
}

func TestManager_ConstructionOrderIsSymmetric(t *testing.T) {
	routeFirst := NewManager()
	r1 := route1(t)
	require.True(t, routeFirst.AddRoute(r1))
	c1, c2 := client1(t, nil), client2(t, nil)
	require.True(t, routeFirst.AddClient(c1))
	require.True(t, routeFirst.AddClient(c2))

	clientsFirst := NewManager()
	d1, d2 := client1(t, nil), client2(t, nil)
	require.True(t, clientsFirst.AddClient(d1))
	require.True(t, clientsFirst.AddClient(d2))
	r2 := route1(t)
	require.True(t, clientsFirst.AddRoute(r2))

	a := routeFirst.GetConnections()
	b := clientsFirst.GetConnections()
	require.Len(t, a, 1)
	require.Len(t, b, 1)

	assert.Equal(t, topology.ConnectionSnapshot{
		Type:     "string",
		From:     topology.EndpointAddress{LeafID: c1.ID(), Endpoint: "pub1_1"},
		To:       topology.EndpointAddress{LeafID: c2.ID(), Endpoint: "sub2_1"},
		RouteIDs: []string{r1.ID()},
	}, a[0])
	assert.Equal(t, topology.ConnectionSnapshot{
		Type:     "string",
		From:     topology.EndpointAddress{LeafID: d1.ID(), Endpoint: "pub1_1"},
		To:       topology.EndpointAddress{LeafID: d2.ID(), Endpoint: "sub2_1"},
		RouteIDs: []string{r2.ID()},
	}, b[0])

	// subscriber registered before publisher
	reversed := NewManager()
	r3 := route1(t)
	require.True(t, reversed.AddRoute(r3))
	require.True(t, reversed.AddClient(client2(t, nil)))
	require.True(t, reversed.AddClient(client1(t, nil)))
	conns := reversed.GetConnections()
	require.Len(t, conns, 1)
	assert.Equal(t, []string{r3.ID()}, conns[0].RouteIDs)
}

func TestManager_ConnectionsAreRefcounted(t *testing.T) {
	m := NewManager()
	c1, c2 := client1(t, nil), client2(t, nil)
	require.True(t, m.AddClient(c1))
	require.True(t, m.AddClient(c2))

	byString := route1(t)
	byID, err := NewRoute(UUIDSpec{
		Type: "string",
		From: IDEndpoint{Leaf: c1.ID(), Endpoint: "pub1_1"},
		To:   IDEndpoint{Leaf: c2.ID(), Endpoint: "sub2_1"},
	})
	require.NoError(t, err)

	require.True(t, m.AddRoute(byString))
	require.True(t, m.AddRoute(byID))

	conns := m.GetConnections()
	require.Len(t, conns, 1)
	assert.ElementsMatch(t, []string{byString.ID(), byID.ID()}, conns[0].RouteIDs)

	require.True(t, m.RemoveRoute(byString))
	conns = m.GetConnections()
	require.Len(t, conns, 1)
	assert.Equal(t, []string{byID.ID()}, conns[0].RouteIDs)

	require.True(t, m.RemoveRoute(RouteByID(byID.ID())))
	assert.Empty(t, m.GetConnections())
	assert.Equal(t, 0, m.Stats().Connections)

	assert.False(t, m.RemoveRoute(byID), "already removed")
}

func TestManager_RemovingEitherClientRemovesConnection(t *testing.T) {
	for _, side := range []string{"publisher", "subscriber"} {
		t.Run(side, func(t *testing.T) {
			m := NewManager()
			c1, c2 := client1(t, nil), client2(t, nil)
			require.True(t, m.AddRoute(route1(t)))
			require.True(t, m.AddClient(c1))
			require.True(t, m.AddClient(c2))
			require.Len(t, m.GetConnections(), 1)

			removed := c1
			if side == "subscriber" {
				removed = c2
			}
			require.True(t, m.RemoveClient(LeafByID(removed.ID())))
			assert.Empty(t, m.GetConnections())
			assert.Len(t, m.GetClients(), 1)

			// re-adding the client restores the connection
			fresh := client1(t, nil)
			if side == "subscriber" {
				fresh = client2(t, nil)
			}
			require.True(t, m.AddClient(fresh))
			assert.Len(t, m.GetConnections(), 1)
		})
	}
}

func TestManager_RemoveClientSelectors(t *testing.T) {
	m := NewManager()
	c1 := client1(t, nil)
	require.True(t, m.AddClient(c1))

	assert.False(t, m.RemoveClient(LeafByID("missing")))
	assert.False(t, m.RemoveClient(LeafByName("client1", map[string]any{"ip": "10.0.0.1"})))
	assert.False(t, m.RemoveClient(nil))
	assert.True(t, m.RemoveClient(LeafByName("client1", map[string]any{"ip": "127.0.0.1"})))
	assert.Empty(t, m.GetClients())
}

func TestManager_RemoveRouteClearsMatchedPublishers(t *testing.T) {
	m := NewManager()
	r := route1(t)
	c1 := client1(t, nil)
	require.True(t, m.AddClient(c1))
	require.True(t, m.AddRoute(r))

	pubRef := endpointRef{leaf: c1.ID(), kind: publisherKind, index: 0}
	assert.Equal(t, []endpointRef{pubRef}, m.g.matched[r.ID()])
	assert.Equal(t, []string{r.ID()}, m.g.pubRoutes[pubRef])

	require.True(t, m.RemoveRoute(r))
	assert.Empty(t, m.g.matched)
	assert.Empty(t, m.g.pubRoutes)
}

func TestManager_RemoveClientClearsMatchedPublishers(t *testing.T) {
	m := NewManager()
	r := route1(t)
	c1 := client1(t, nil)
	require.True(t, m.AddRoute(r))
	require.True(t, m.AddClient(c1))
	require.NotEmpty(t, m.g.matched[r.ID()])

	require.True(t, m.RemoveClient(c1))
	assert.Empty(t, m.g.matched)
	assert.Empty(t, m.g.pubRoutes)
	assert.Empty(t, m.g.links)
}

func TestManager_SelfConnection(t *testing.T) {
	m := NewManager()
	echo := newLeaf(t, LeafConfig{
		Name:        "echo",
		Publishers:  []Publisher{{Name: "out", Type: "string"}},
		Subscribers: []Subscriber{{Name: "in", Type: "string"}},
	}, nil)
	r, err := NewRoute(StringSpec{
		Type: "string",
		From: NamedEndpoint{Name: "echo", Endpoint: "out"},
		To:   NamedEndpoint{Name: "echo", Endpoint: "in"},
	})
	require.NoError(t, err)

	require.True(t, m.AddRoute(r))
	require.True(t, m.AddClient(echo))

	conns := m.GetConnections()
	require.Len(t, conns, 1)
	assert.Equal(t, echo.ID(), conns[0].From.LeafID)
	assert.Equal(t, echo.ID(), conns[0].To.LeafID)

	// the leaf's own view reports the self connection once
	m.mu.Lock()
	own := m.g.leafConnections(echo)
	m.mu.Unlock()
	assert.Len(t, own, 1)

	require.True(t, m.RemoveClient(echo))
	assert.Empty(t, m.GetConnections())
	assert.Empty(t, m.g.connections)
}

func TestManager_TypeMismatchNeverConnects(t *testing.T) {
	m := NewManager()
	pub := newLeaf(t, LeafConfig{Name: "a", Publishers: []Publisher{{Name: "x", Type: "range"}}}, nil)
	sub := newLeaf(t, LeafConfig{Name: "b", Subscribers: []Subscriber{{Name: "y", Type: "string"}}}, nil)
	r, err := ParseRoute(topology.RouteDefinition{
		Style: topology.StyleRegexp,
		Type:  ".*",
		From:  topology.EndpointDefinition{Name: "^a$", Endpoint: "^x$"},
		To:    topology.EndpointDefinition{Name: "^b$", Endpoint: "^y$"},
	})
	require.NoError(t, err)

	require.True(t, m.AddClient(pub))
	require.True(t, m.AddClient(sub))
	require.True(t, m.AddRoute(r))
	assert.Empty(t, m.GetConnections())
}

func TestManager_RegexpRouteWithBackreferences(t *testing.T) {
	m := NewManager()
	in := &inbox{}

	sensor := newLeaf(t, LeafConfig{
		Name:       "kitchen-sensor",
		Metadata:   map[string]any{"ip": "10.0.0.5"},
		Publishers: []Publisher{{Name: "kitchen_temp", Type: "range"}},
	}, nil)
	kitchenLight := newLeaf(t, LeafConfig{
		Name:        "kitchen-light",
		Metadata:    map[string]any{"ip": "10.0.0.6"},
		Subscribers: []Subscriber{{Name: "kitchen_level", Type: "range"}},
	}, in.sender("kitchen-light"))
	hallLight := newLeaf(t, LeafConfig{
		Name:        "hall-light",
		Metadata:    map[string]any{"ip": "10.0.0.7"},
		Subscribers: []Subscriber{{Name: "hall_level", Type: "range"}},
	}, in.sender("hall-light"))

	r, err := ParseRoute(topology.RouteDefinition{
		Style: topology.StyleRegexp,
		Type:  "^range$",
		From: topology.EndpointDefinition{
			Name:     `^(\w+)-sensor$`,
			Metadata: []any{map[string]any{"key": "^ip$", "value": `^10\.`}},
			Endpoint: `^\1_temp$`,
		},
		To: topology.EndpointDefinition{
			Name:     `^\1-light$`,
			Metadata: []any{map[string]any{"key": "^ip$", "value": `.*`}},
			Endpoint: `^\1_level$`,
		},
	})
	require.NoError(t, err)

	require.True(t, m.AddRoute(r))
	require.True(t, m.AddClient(sensor))
	require.True(t, m.AddClient(kitchenLight))
	require.True(t, m.AddClient(hallLight))

	conns := m.GetConnections()
	require.Len(t, conns, 1)
	assert.Equal(t, kitchenLight.ID(), conns[0].To.LeafID)
	assert.Equal(t, "kitchen_level", conns[0].To.Endpoint)

	m.Published(sensor, "kitchen_temp", "range", 512)
	got := in.all()
	require.Len(t, got, 1)
	assert.Equal(t, delivery{"kitchen-light", "kitchen_level", "range", 512}, got[0])
}

func TestManager_PublishedWithoutPublisherIsNoop(t *testing.T) {
	m := NewManager()
	in := &inbox{}
	admin := &recorder{}
	c1, c2 := client1(t, nil), client2(t, in.sender("client2"))
	require.True(t, m.AddClient(c1))
	require.True(t, m.AddClient(c2))
	require.True(t, m.AddRoute(route1(t)))
	a, err := NewAdmin(admin, nil)
	require.NoError(t, err)
	require.True(t, m.AddAdmin(a))
	before := len(admin.all())

	assert.NotPanics(t, func() {
		m.Published(LeafByID("missing"), "pub1_1", "string", "x")
		m.Published(c1, "nope", "string", "x")
		m.Published(c1, "pub1_1", "boolean", "x")
		m.Published(nil, "pub1_1", "string", "x")
	})
	assert.Empty(t, in.all())
	assert.Len(t, admin.all(), before)
}

func TestManager_PublishedDeliversExactlyOnce(t *testing.T) {
	m := NewManager()
	in := &inbox{}

	c1 := client1(t, in.sender("client1"))
	c2 := client2(t, in.sender("client2"))
	c3 := newLeaf(t, LeafConfig{
		Name:        "client3",
		Metadata:    map[string]any{"ip": "127.0.0.1"},
		Subscribers: []Subscriber{{Name: "sub3_1", Type: "string"}},
	}, in.sender("client3"))
	bystander := newLeaf(t, LeafConfig{
		Name:        "bystander",
		Subscribers: []Subscriber{{Name: "sub2_1", Type: "string"}},
	}, in.sender("bystander"))

	for _, l := range []*Leaf{c1, c2, c3, bystander} {
		require.True(t, m.AddClient(l))
	}
	require.True(t, m.AddRoute(route1(t)))
	require.True(t, m.AddRoute(stringRoute(t, "client1", "pub1_1", "client3", "sub3_1")))
	// second route to the same pair must not duplicate delivery
	byID, err := NewRoute(UUIDSpec{
		Type: "string",
		From: IDEndpoint{Leaf: c1.ID(), Endpoint: "pub1_1"},
		To:   IDEndpoint{Leaf: c2.ID(), Endpoint: "sub2_1"},
	})
	require.NoError(t, err)
	require.True(t, m.AddRoute(byID))

	m.Published(LeafByName("client1", map[string]any{"ip": "127.0.0.1"}), "pub1_1", "string", "hello")

	assert.ElementsMatch(t, []delivery{
		{"client2", "sub2_1", "string", "hello"},
		{"client3", "sub3_1", "string", "hello"},
	}, in.all())
}

func TestManager_DeliveryFailureIsIsolated(t *testing.T) {
	mm := metrics.New()
	m := NewManager(WithMetrics(mm))
	in := &inbox{}

	c1 := client1(t, nil)
	broken := client2(t, func(string, string, any) error { panic("socket gone") })
	c3 := newLeaf(t, LeafConfig{
		Name:        "client3",
		Metadata:    map[string]any{"ip": "127.0.0.1"},
		Subscribers: []Subscriber{{Name: "sub3_1", Type: "string"}},
	}, in.sender("client3"))
	failing := newLeaf(t, LeafConfig{
		Name:        "client4",
		Metadata:    map[string]any{"ip": "127.0.0.1"},
		Subscribers: []Subscriber{{Name: "sub4_1", Type: "string"}},
	}, func(string, string, any) error { return errors.New("closed") })

	for _, l := range []*Leaf{c1, broken, c3, failing} {
		require.True(t, m.AddClient(l))
	}
	require.True(t, m.AddRoute(route1(t)))
	require.True(t, m.AddRoute(stringRoute(t, "client1", "pub1_1", "client3", "sub3_1")))
	require.True(t, m.AddRoute(stringRoute(t, "client1", "pub1_1", "client4", "sub4_1")))

	assert.NotPanics(t, func() { m.Published(c1, "pub1_1", "string", "x") })
	assert.Len(t, in.all(), 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(mm.Deliveries))
	assert.Equal(t, 2.0, testutil.ToFloat64(mm.DeliveryFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.MessagesPublished))
}

func TestManager_AdminReceivesSnapshotThenDiffs(t *testing.T) {
	m := NewManager()
	c1, c2 := client1(t, nil), client2(t, nil)
	r := route1(t)
	require.True(t, m.AddClient(c1))
	require.True(t, m.AddClient(c2))
	require.True(t, m.AddRoute(r))

	rec := &recorder{}
	admin, err := NewAdmin(rec, nil)
	require.NoError(t, err)
	require.True(t, m.AddAdmin(admin))
	assert.False(t, m.AddAdmin(admin))

	notes := rec.all()
	require.Len(t, notes, 1)
	snap := notes[0]
	assert.Equal(t, topology.NotificationAdd, snap.Kind)
	assert.Len(t, snap.Clients, 2)
	assert.Len(t, snap.Routes, 1)
	assert.Len(t, snap.Connections, 1)

	// new client: diff carries the client and its connections
	c3 := newLeaf(t, LeafConfig{
		Name:        "client2",
		Metadata:    map[string]any{"ip": "127.0.0.1", "n": 2},
		Subscribers: []Subscriber{{Name: "sub2_1", Type: "string"}},
	}, nil)
	require.True(t, m.AddClient(c3))
	n := rec.last(t)
	assert.Equal(t, topology.NotificationAdd, n.Kind)
	require.Len(t, n.Clients, 1)
	assert.Equal(t, c3.ID(), n.Clients[0].ID)
	assert.Empty(t, n.Routes)
	assert.Empty(t, n.Connections, "metadata differs so route1 does not match")

	// remove client: diff carries the pre-removal connections
	require.True(t, m.RemoveClient(c2))
	n = rec.last(t)
	assert.Equal(t, topology.NotificationRemove, n.Kind)
	require.Len(t, n.Clients, 1)
	assert.Equal(t, c2.ID(), n.Clients[0].ID)
	require.Len(t, n.Connections, 1)
	assert.Equal(t, c2.ID(), n.Connections[0].To.LeafID)

	// removed admins hear nothing more
	count := len(rec.all())
	require.True(t, m.RemoveAdmin(AdminByID(admin.ID())))
	assert.False(t, m.RemoveAdmin(admin))
	require.True(t, m.RemoveClient(c1))
	assert.Len(t, rec.all(), count)
}

func TestManager_AddRouteNotifiesOnlyNewConnections(t *testing.T) {
	m := NewManager()
	c1, c2 := client1(t, nil), client2(t, nil)
	require.True(t, m.AddClient(c1))
	require.True(t, m.AddClient(c2))
	first := route1(t)
	require.True(t, m.AddRoute(first))

	rec := &recorder{}
	admin, err := NewAdmin(rec, nil)
	require.NoError(t, err)
	require.True(t, m.AddAdmin(admin))

	second, err := NewRoute(UUIDSpec{
		Type: "string",
		From: IDEndpoint{Leaf: c1.ID(), Endpoint: "pub1_1"},
		To:   IDEndpoint{Leaf: c2.ID(), Endpoint: "sub2_1"},
	})
	require.NoError(t, err)
	require.True(t, m.AddRoute(second))

	n := rec.last(t)
	assert.Equal(t, topology.NotificationAdd, n.Kind)
	require.Len(t, n.Routes, 1)
	assert.Equal(t, second.ID(), n.Routes[0].ID)
	assert.Empty(t, n.Connections, "the pair was already connected by the first route")

	// removing the first route breaks nothing
	require.True(t, m.RemoveRoute(first))
	n = rec.last(t)
	assert.Equal(t, topology.NotificationRemove, n.Kind)
	assert.Empty(t, n.Connections)

	// removing the last route reports the broken connection
	require.True(t, m.RemoveRoute(second))
	n = rec.last(t)
	require.Len(t, n.Connections, 1)
	assert.Equal(t, []string{second.ID()}, n.Connections[0].RouteIDs)
}

func TestManager_PublishedNotifiesAdmins(t *testing.T) {
	m := NewManager()
	c1 := client1(t, nil)
	require.True(t, m.AddClient(c1))

	full, quiet := &recorder{}, &recorder{}
	a1, err := NewAdmin(full, nil)
	require.NoError(t, err)
	a2, err := NewAdmin(quiet, map[string]any{"no_msgs": true})
	require.NoError(t, err)
	require.True(t, m.AddAdmin(a1))
	require.True(t, m.AddAdmin(a2))

	m.Published(c1, "pub1_1", "string", "payload")

	n := full.last(t)
	assert.Equal(t, topology.NotificationPublished, n.Kind)
	require.NotNil(t, n.Published)
	assert.Equal(t, c1.ID(), n.Published.Client.ID)
	assert.Equal(t, topology.EndpointSnapshot{Name: "pub1_1", Type: "string"}, n.Published.Publisher)
	assert.True(t, n.Published.HasMessage)
	assert.Equal(t, "payload", n.Published.Message)

	n = quiet.last(t)
	require.NotNil(t, n.Published)
	assert.False(t, n.Published.HasMessage)
	assert.Nil(t, n.Published.Message)
}

func TestManager_FailingAdminDoesNotBlockOthers(t *testing.T) {
	mm := metrics.New()
	m := NewManager(WithMetrics(mm))

	bad, err := NewAdmin(topology.AdminSinkFunc(func(topology.Notification) error {
		panic("admin exploded")
	}), nil)
	require.NoError(t, err)
	rec := &recorder{}
	good, err := NewAdmin(rec, nil)
	require.NoError(t, err)

	require.True(t, m.AddAdmin(bad))
	require.True(t, m.AddAdmin(good))
	require.True(t, m.AddClient(client1(t, nil)))

	assert.Len(t, rec.all(), 2, "snapshot plus the client diff")
	assert.Equal(t, 2.0, testutil.ToFloat64(mm.AdminFailures))
	assert.Equal(t, 1, m.Stats().Clients)
}

func TestManager_CallbacksMayReenter(t *testing.T) {
	m := NewManager()
	var seen []topology.LeafSnapshot
	var admin *Admin
	admin, err := NewAdmin(topology.AdminSinkFunc(func(n topology.Notification) error {
		// a protocol layer resolves clients while translating notifications
		seen = append(seen, m.GetClients()...)
		if n.Kind == topology.NotificationAdd && len(n.Clients) == 1 && n.Clients[0].Name == "client1" {
			m.RemoveAdmin(admin)
		}
		return nil
	}), nil)
	require.NoError(t, err)

	require.True(t, m.AddAdmin(admin))
	require.True(t, m.AddClient(client1(t, nil)))
	require.True(t, m.AddClient(client2(t, nil)))

	assert.Len(t, seen, 1, "snapshot saw no clients, first diff saw one, then the admin left")
	assert.Equal(t, 0, m.Admins())
}

func TestManager_Stats(t *testing.T) {
	mm := metrics.New()
	m := NewManager(WithMetrics(mm))
	require.True(t, m.AddRoute(route1(t)))
	require.True(t, m.AddClient(client1(t, nil)))
	require.True(t, m.AddClient(client2(t, nil)))
	a, err := NewAdmin(&recorder{}, nil)
	require.NoError(t, err)
	require.True(t, m.AddAdmin(a))

	assert.Equal(t, Stats{Clients: 2, Routes: 1, Connections: 1, Admins: 1}, m.Stats())
	assert.Equal(t, 2.0, testutil.ToFloat64(mm.Clients))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.Connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.Admins))
}

func TestManager_InstancesAreIndependent(t *testing.T) {
	a, b := NewManager(), NewManager()
	leaf := client1(t, nil)
	require.True(t, a.AddClient(leaf))
	assert.Empty(t, b.GetClients())
	assert.True(t, b.AddClient(leaf))
}

func TestManager_ClientLookup(t *testing.T) {
	m := NewManager()
	c1 := client1(t, nil)
	require.True(t, m.AddClient(c1))

	snap, ok := m.Client(c1.ID())
	require.True(t, ok)
	assert.Equal(t, "client1", snap.Name)

	_, ok = m.Client("missing")
	assert.False(t, ok)

	snap, ok = m.FindClient(LeafByName("client1", map[string]any{"ip": "127.0.0.1"}))
	require.True(t, ok)
	assert.Equal(t, c1.ID(), snap.ID)

	_, ok = m.FindClient(nil)
	assert.False(t, ok)
}
