package topology

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_AddConnectionsShareOneEdge(t *testing.T) {
	g := newGraph()
	pub := endpointRef{leaf: "a", kind: publisherKind}
	sub := endpointRef{leaf: "b", kind: subscriberKind}

	g.addOutConnection(pub, sub, "r1")
	g.addInConnection(pub, sub, "r1")
	g.addOutConnection(pub, sub, "r2")
	g.addInConnection(pub, sub, "r2")

	require.Len(t, g.connections, 1)
	require.Len(t, g.links[pub], 1)
	require.Len(t, g.links[sub], 1)
	assert.Equal(t, g.links[pub][0], g.links[sub][0])
	assert.Equal(t, []string{"r1", "r2"}, g.connections[g.links[pub][0]].routes)
}

func TestGraph_BreakConnection(t *testing.T) {
	g := newGraph()
	pub := endpointRef{leaf: "a", kind: publisherKind}
	sub1 := endpointRef{leaf: "b", kind: subscriberKind}
	sub2 := endpointRef{leaf: "c", kind: subscriberKind}
	g.link(pub, sub1, "r")
	g.link(pub, sub2, "r")

	id := g.links[sub1][0]
	g.breakConnection(sub1, id)

	assert.Empty(t, g.links[sub1])
	assert.Len(t, g.links[pub], 1, "only the mirrored entry is removed from the far side")
	assert.NotContains(t, g.connections, id)
	assert.Len(t, g.byPair, 1)
}

func TestGraph_BreakConnectionPanicsWhenNotAttached(t *testing.T) {
	g := newGraph()
	pub := endpointRef{leaf: "a", kind: publisherKind}
	sub := endpointRef{leaf: "b", kind: subscriberKind}
	other := endpointRef{leaf: "c", kind: subscriberKind}
	g.link(pub, sub, "r")

	assert.Panics(t, func() { g.breakConnection(other, g.links[pub][0]) })
}

func TestGraph_CleanConnectionsFrom(t *testing.T) {
	g := newGraph()
	pub1 := endpointRef{leaf: "a", kind: publisherKind, index: 0}
	pub2 := endpointRef{leaf: "a", kind: publisherKind, index: 1}
	sub := endpointRef{leaf: "b", kind: subscriberKind}
	g.link(pub1, sub, "r")
	g.link(pub2, sub, "r")

	g.cleanConnectionsFrom([]endpointRef{pub1, pub2})

	assert.Empty(t, g.connections)
	assert.Empty(t, g.links)
	assert.Empty(t, g.byPair)
}

func TestDispatcher_FIFOAndReentry(t *testing.T) {
	var d dispatcher
	var order []int

	d.push(job{kind: "admin", run: func() error {
		order = append(order, 1)
		// nested work queued during a drain runs after the current job
		d.push(job{kind: "admin", run: func() error { order = append(order, 3); return nil }})
		d.drain()
		order = append(order, 2)
		return nil
	}})
	d.push(job{kind: "delivery", run: func() error { panic("boom") }})
	d.push(job{kind: "delivery", run: func() error { order = append(order, 4); return nil }})

	var mu sync.Mutex
	var failures []string
	d.done = func(j job, err error) {
		if err != nil {
			mu.Lock()
			failures = append(failures, j.kind)
			mu.Unlock()
		}
	}
	d.drain()

	assert.Equal(t, []int{1, 2, 4, 3}, order)
	assert.Equal(t, []string{"delivery"}, failures)
	assert.False(t, d.draining)
	assert.Empty(t, d.queue)
}
