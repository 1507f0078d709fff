package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/pattern"
	"github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

func TestNewRoute_Validation(t *testing.T) {
	p := pattern.MustCompile(".*")

	tests := []struct {
		name    string
		spec    Spec
		wantErr error
	}{
		{"nil spec", nil, ErrInvalidStyle},
		{"string ok", StringSpec{Type: "string", From: NamedEndpoint{Name: "a", Endpoint: "x"}, To: NamedEndpoint{Name: "b", Endpoint: "y"}}, nil},
		{"string empty strings", StringSpec{From: NamedEndpoint{Endpoint: ""}, To: NamedEndpoint{Endpoint: ""}}, nil},
		{"string nested metadata", StringSpec{
			Type: "string",
			From: NamedEndpoint{Name: "a", Metadata: topology.Metadata{"nested": map[string]any{}}, Endpoint: "x"},
			To:   NamedEndpoint{Name: "b", Endpoint: "y"},
		}, ErrInvalidRouteField},
		{"uuid ok", UUIDSpec{Type: "string", From: IDEndpoint{"l1", "x"}, To: IDEndpoint{"l2", "y"}}, nil},
		{"uuid empty type and endpoints", UUIDSpec{From: IDEndpoint{"l1", ""}, To: IDEndpoint{"l2", ""}}, nil},
		{"uuid missing id", UUIDSpec{Type: "string", From: IDEndpoint{"", "x"}, To: IDEndpoint{"l2", "y"}}, ErrInvalidRouteField},
		{"regexp ok", RegexpSpec{Type: p, From: PatternEndpoint{Name: p, Endpoint: p}, To: PatternEndpoint{Name: p, Endpoint: p}}, nil},
		{"regexp missing pattern", RegexpSpec{Type: p, From: PatternEndpoint{Name: p}, To: PatternEndpoint{Name: p, Endpoint: p}}, ErrInvalidRouteField},
		{"regexp bad metadata", RegexpSpec{
			Type: p,
			From: PatternEndpoint{Name: p, Endpoint: p, Metadata: []pattern.MetadataPattern{{Key: p}}},
			To:   PatternEndpoint{Name: p, Endpoint: p},
		}, ErrInvalidMetadataPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRoute(tt.spec)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, r)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, r.ID())
		})
	}
}

func TestRoute_Matches(t *testing.T) {
	a := route1(t)
	b := route1(t)
	c := stringRoute(t, "client1", "pub1_1", "client3", "sub2_1")

	assert.NotEqual(t, a.ID(), b.ID())
	assert.True(t, a.Matches(b))
	assert.False(t, a.Matches(c))

	u1, err := NewRoute(UUIDSpec{Type: "string", From: IDEndpoint{"l1", "x"}, To: IDEndpoint{"l2", "y"}})
	require.NoError(t, err)
	u2, err := NewRoute(UUIDSpec{Type: "string", From: IDEndpoint{"l1", "x"}, To: IDEndpoint{"l3", "y"}})
	require.NoError(t, err)
	assert.False(t, u1.Matches(u2), "uuid routes compare both client ids")
	assert.False(t, u1.Matches(a), "different styles never match")

	def := topology.RouteDefinition{
		Style: topology.StyleRegexp,
		Type:  ".*",
		From:  topology.EndpointDefinition{Name: "^a(.*)$", Endpoint: `\1`},
		To:    topology.EndpointDefinition{Name: ".*", Endpoint: ".*"},
	}
	r1, err := ParseRoute(def)
	require.NoError(t, err)
	r2, err := ParseRoute(def)
	require.NoError(t, err)
	assert.True(t, r1.Matches(r2), "regexp routes compare pattern sources")
}

func TestRoute_StringMatching(t *testing.T) {
	r := route1(t)
	c1, c2 := client1(t, nil), client2(t, nil)
	pub := c1.Publishers()[0]
	sub := c2.Subscribers()[0]

	assert.True(t, r.MatchesFromClient(c1))
	assert.False(t, r.MatchesFromClient(c2))
	assert.True(t, r.MatchesPublisher(c1, pub))
	assert.True(t, r.MatchesPublisher(c1, Publisher{Name: "pub1_1", Type: "boolean"}), "the route type is not compared")
	assert.False(t, r.MatchesPublisher(c1, Publisher{Name: "pub1_2", Type: "string"}))
	assert.True(t, r.MatchesPubToClient(c1, pub, c2))
	assert.False(t, r.MatchesPubToClient(c1, pub, c1))
	assert.True(t, r.MatchesPair(c1, pub, c2, sub))
	assert.False(t, r.MatchesPair(c1, pub, c2, Subscriber{Name: "sub2_1", Type: "boolean"}))
	assert.False(t, r.MatchesPair(c1, pub, c2, Subscriber{Name: "other", Type: "string"}))

	moved := newLeaf(t, LeafConfig{Name: "client1", Metadata: map[string]any{"ip": "10.1.1.1"}}, nil)
	assert.False(t, r.MatchesFromClient(moved), "metadata is part of the client identity")
}

func TestRoute_UUIDMatching(t *testing.T) {
	c1, c2 := client1(t, nil), client2(t, nil)
	r, err := NewRoute(UUIDSpec{
		Type: "string",
		From: IDEndpoint{Leaf: c1.ID(), Endpoint: "pub1_1"},
		To:   IDEndpoint{Leaf: c2.ID(), Endpoint: "sub2_1"},
	})
	require.NoError(t, err)

	pub := c1.Publishers()[0]
	assert.True(t, r.MatchesFromClient(c1))
	assert.False(t, r.MatchesFromClient(client1(t, nil)), "a twin has another id")
	assert.True(t, r.MatchesPair(c1, pub, c2, c2.Subscribers()[0]))
	assert.False(t, r.MatchesPubToClient(c1, pub, client2(t, nil)))
}

func TestRoute_RegexpMatching(t *testing.T) {
	r, err := ParseRoute(topology.RouteDefinition{
		Style: topology.StyleRegexp,
		Type:  "(.+)",
		From:  topology.EndpointDefinition{Name: `^client(\d)$`, Endpoint: `^pub\1_(\d)$`},
		To:    topology.EndpointDefinition{Name: `^client\d$`, Endpoint: `^sub\d_\3$`},
	})
	require.NoError(t, err)

	c1, c2 := client1(t, nil), client2(t, nil)
	// metadata patterns are empty, so only clients without metadata match
	assert.False(t, r.MatchesFromClient(c1))

	bare1 := newLeaf(t, LeafConfig{Name: "client1", Publishers: []Publisher{{Name: "pub1_1", Type: "string"}}}, nil)
	bare2 := newLeaf(t, LeafConfig{Name: "client2", Subscribers: []Subscriber{
		{Name: "sub2_1", Type: "string"},
		{Name: "sub2_2", Type: "string"},
	}}, nil)
	pub := bare1.Publishers()[0]

	assert.True(t, r.MatchesFromClient(bare1))
	assert.True(t, r.MatchesPublisher(bare1, pub))
	assert.False(t, r.MatchesPublisher(bare1, Publisher{Name: "pub2_1", Type: "string"}), `\1 binds the client digit`)
	assert.True(t, r.MatchesPubToClient(bare1, pub, bare2))
	assert.False(t, r.MatchesPubToClient(bare1, pub, c2), "subscriber metadata must be covered")
	assert.True(t, r.MatchesPair(bare1, pub, bare2, bare2.Subscribers()[0]))
	assert.False(t, r.MatchesPair(bare1, pub, bare2, bare2.Subscribers()[1]), `\3 binds the publisher digit`)
}

func TestRoute_Definition(t *testing.T) {
	r := route1(t)
	snap := r.Snapshot()
	assert.Equal(t, r.ID(), snap.ID)
	assert.Equal(t, topology.StyleString, snap.Style)
	assert.Equal(t, "client1", snap.From.Name)
	assert.Equal(t, topology.Metadata{"ip": "127.0.0.1"}, snap.From.Metadata)
	assert.Equal(t, "sub2_1", snap.To.Endpoint)

	u, err := NewRoute(UUIDSpec{Type: "string", From: IDEndpoint{"l1", "x"}, To: IDEndpoint{"l2", "y"}})
	require.NoError(t, err)
	def := u.Definition()
	assert.Equal(t, "l1", def.From.UUID)
	assert.Empty(t, def.From.Name)
	assert.Nil(t, def.From.Metadata)

	// a parsed definition round-trips into an equal route
	again, err := ParseRoute(r.Definition())
	require.NoError(t, err)
	assert.True(t, r.Matches(again))
}

func TestRoute_TypeComesFromEndpoints(t *testing.T) {
	r, err := NewRoute(StringSpec{
		Type: "boolean",
		From: NamedEndpoint{Name: "client1", Metadata: topology.Metadata{"ip": "127.0.0.1"}, Endpoint: "pub1_1"},
		To:   NamedEndpoint{Name: "client2", Metadata: topology.Metadata{"ip": "127.0.0.1"}, Endpoint: "sub2_1"},
	})
	require.NoError(t, err)

	m := NewManager()
	c1, c2 := client1(t, nil), client2(t, nil)
	require.True(t, m.AddClient(c1))
	require.True(t, m.AddClient(c2))
	require.True(t, m.AddRoute(r))

	conns := m.GetConnections()
	require.Len(t, conns, 1, "string publisher and subscriber connect whatever the route type says")
	assert.Equal(t, "string", conns[0].Type)
}
