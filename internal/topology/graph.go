package topology

import (
	"fmt"
	"slices"

	"github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

type endpointKind uint8

const (
	publisherKind endpointKind = iota
	subscriberKind
)

func (k endpointKind) String() string {
	if k == publisherKind {
		return "publisher"
	}
	return "subscriber"
}

// endpointRef addresses one publisher or subscriber by position on its leaf.
type endpointRef struct {
	leaf  string
	kind  endpointKind
	index int
}

type connectionID uint64

// connection is a publisher to subscriber edge. It is shared by both
// endpoints' link lists and carries the ordered set of route ids that
// justify it.
type connection struct {
	id     connectionID
	pub    endpointRef
	sub    endpointRef
	routes []string
}

func (c *connection) hasRoute(routeID string) bool { return slices.Contains(c.routes, routeID) }

func (c *connection) addRoute(routeID string) {
	if !c.hasRoute(routeID) {
		c.routes = append(c.routes, routeID)
	}
}

func (c *connection) removeRoute(routeID string) {
	c.routes = slices.DeleteFunc(c.routes, func(id string) bool { return id == routeID })
}

// far returns the endpoint on the other side of the connection.
func (c *connection) far(from endpointRef) endpointRef {
	if from == c.pub {
		return c.sub
	}
	return c.pub
}

type endpointPair struct {
	pub endpointRef
	sub endpointRef
}

// graph holds every client, route and connection of a Manager. Leaves and
// routes are immutable; all relationships are id-indexed here.
type graph struct {
	leaves     map[string]*Leaf
	leafOrder  []string
	routes     map[string]*Route
	routeOrder []string

	connections map[connectionID]*connection
	byPair      map[endpointPair]connectionID
	nextConnID  connectionID

	// links is each endpoint's connectedTo list
	links map[endpointRef][]connectionID
	// pubRoutes is each publisher's set of matching routes
	pubRoutes map[endpointRef][]string
	// matched is each route's list of matching publishers
	matched map[string][]endpointRef
}

func newGraph() *graph {
	return &graph{
		leaves:      make(map[string]*Leaf),
		routes:      make(map[string]*Route),
		connections: make(map[connectionID]*connection),
		byPair:      make(map[endpointPair]connectionID),
		links:       make(map[endpointRef][]connectionID),
		pubRoutes:   make(map[endpointRef][]string),
		matched:     make(map[string][]endpointRef),
	}
}

func (g *graph) findLeaf(ref LeafRef) *Leaf {
	for _, id := range g.leafOrder {
		if l := g.leaves[id]; ref.matchLeaf(l) {
			return l
		}
	}
	return nil
}

func (g *graph) findRoute(ref RouteRef) *Route {
	for _, id := range g.routeOrder {
		if r := g.routes[id]; ref.matchRoute(r) {
			return r
		}
	}
	return nil
}

func (g *graph) insertLeaf(l *Leaf) {
	g.leaves[l.id] = l
	g.leafOrder = append(g.leafOrder, l.id)
}

func (g *graph) deleteLeaf(id string) {
	delete(g.leaves, id)
	g.leafOrder = slices.DeleteFunc(g.leafOrder, func(v string) bool { return v == id })
}

func (g *graph) insertRoute(r *Route) {
	g.routes[r.id] = r
	g.routeOrder = append(g.routeOrder, r.id)
}

func (g *graph) deleteRoute(id string) {
	delete(g.routes, id)
	g.routeOrder = slices.DeleteFunc(g.routeOrder, func(v string) bool { return v == id })
}

func publisherRefs(l *Leaf) []endpointRef {
	refs := make([]endpointRef, len(l.publishers))
	for i := range l.publishers {
		refs[i] = endpointRef{leaf: l.id, kind: publisherKind, index: i}
	}
	return refs
}

func subscriberRefs(l *Leaf) []endpointRef {
	refs := make([]endpointRef, len(l.subscribers))
	for i := range l.subscribers {
		refs[i] = endpointRef{leaf: l.id, kind: subscriberKind, index: i}
	}
	return refs
}

// connectionFor returns the pair's connection, creating an empty one if needed.
func (g *graph) connectionFor(pub, sub endpointRef) *connection {
	key := endpointPair{pub: pub, sub: sub}
	if id, ok := g.byPair[key]; ok {
		return g.connections[id]
	}
	g.nextConnID++
	c := &connection{id: g.nextConnID, pub: pub, sub: sub}
	g.connections[c.id] = c
	g.byPair[key] = c.id
	return c
}

// addOutConnection records route on pub's outgoing connection to sub.
func (g *graph) addOutConnection(pub, sub endpointRef, routeID string) {
	for _, id := range g.links[pub] {
		if c := g.connections[id]; c.sub == sub {
			c.addRoute(routeID)
			return
		}
	}
	c := g.connectionFor(pub, sub)
	c.addRoute(routeID)
	g.links[pub] = append(g.links[pub], c.id)
}

// addInConnection records route on sub's incoming connection from pub.
func (g *graph) addInConnection(pub, sub endpointRef, routeID string) {
	for _, id := range g.links[sub] {
		if c := g.connections[id]; c.pub == pub {
			c.addRoute(routeID)
			return
		}
	}
	c := g.connectionFor(pub, sub)
	c.addRoute(routeID)
	g.links[sub] = append(g.links[sub], c.id)
}

// link connects pub to sub on behalf of routeID.
func (g *graph) link(pub, sub endpointRef, routeID string) {
	g.addOutConnection(pub, sub, routeID)
	g.addInConnection(pub, sub, routeID)
}

// breakConnection detaches connection id from endpoint and from the far
// endpoint, then forgets it. A connection that endpoint does not hold means
// the graph is corrupt.
func (g *graph) breakConnection(endpoint endpointRef, id connectionID) {
	list := g.links[endpoint]
	i := slices.Index(list, id)
	if i < 0 {
		panic(fmt.Sprintf("topology: connection %d is not attached to %s %d of client %s",
			id, endpoint.kind, endpoint.index, endpoint.leaf))
	}
	g.links[endpoint] = slices.Delete(list, i, i+1)

	c, ok := g.connections[id]
	if !ok {
		return
	}
	far := c.far(endpoint)
	g.links[far] = slices.DeleteFunc(g.links[far], func(v connectionID) bool { return v == id })
	if len(g.links[far]) == 0 {
		delete(g.links, far)
	}
	delete(g.connections, id)
	delete(g.byPair, endpointPair{pub: c.pub, sub: c.sub})
}

// cleanConnectionsFrom breaks every connection of the given endpoints.
func (g *graph) cleanConnectionsFrom(endpoints []endpointRef) {
	for _, ep := range endpoints {
		for _, id := range slices.Clone(g.links[ep]) {
			g.breakConnection(ep, id)
		}
		delete(g.links, ep)
	}
}

func (g *graph) snapshotConnection(c *connection) topology.ConnectionSnapshot {
	pubLeaf := g.leaves[c.pub.leaf]
	subLeaf := g.leaves[c.sub.leaf]
	pub := pubLeaf.publishers[c.pub.index]
	return topology.ConnectionSnapshot{
		Type:     pub.Type,
		From:     topology.EndpointAddress{LeafID: pubLeaf.id, Endpoint: pub.Name},
		To:       topology.EndpointAddress{LeafID: subLeaf.id, Endpoint: subLeaf.subscribers[c.sub.index].Name},
		RouteIDs: slices.Clone(c.routes),
	}
}

// outgoingConnections lists the connections leaving every publisher of l.
func (g *graph) outgoingConnections(l *Leaf) []topology.ConnectionSnapshot {
	var out []topology.ConnectionSnapshot
	for _, ep := range publisherRefs(l) {
		for _, id := range g.links[ep] {
			out = append(out, g.snapshotConnection(g.connections[id]))
		}
	}
	return out
}

// leafConnections lists every connection touching l. Self connections are
// reported once, as outgoing.
func (g *graph) leafConnections(l *Leaf) []topology.ConnectionSnapshot {
	out := g.outgoingConnections(l)
	for _, ep := range subscriberRefs(l) {
		for _, id := range g.links[ep] {
			c := g.connections[id]
			if c.pub.leaf == l.id {
				continue
			}
			out = append(out, g.snapshotConnection(c))
		}
	}
	return out
}

// allConnections lists every connection once, grouped by publishing client.
func (g *graph) allConnections() []topology.ConnectionSnapshot {
	out := []topology.ConnectionSnapshot{}
	for _, id := range g.leafOrder {
		out = append(out, g.outgoingConnections(g.leaves[id])...)
	}
	return out
}

// addMatched records that pub satisfies routeID's from side.
func (g *graph) addMatched(routeID string, pub endpointRef) {
	if !slices.Contains(g.matched[routeID], pub) {
		g.matched[routeID] = append(g.matched[routeID], pub)
	}
	if !slices.Contains(g.pubRoutes[pub], routeID) {
		g.pubRoutes[pub] = append(g.pubRoutes[pub], routeID)
	}
}

// unmatchLeaf drops every publisher of leafID from every route.
func (g *graph) unmatchLeaf(leafID string) {
	for routeID, refs := range g.matched {
		refs = slices.DeleteFunc(refs, func(ep endpointRef) bool { return ep.leaf == leafID })
		if len(refs) == 0 {
			delete(g.matched, routeID)
		} else {
			g.matched[routeID] = refs
		}
	}
	for ep := range g.pubRoutes {
		if ep.leaf == leafID {
			delete(g.pubRoutes, ep)
		}
	}
}

// connectRoutePubClient registers pubLeaf's matching publishers with route
// and links each of them to every matching subscriber of a registered client.
func (g *graph) connectRoutePubClient(route *Route, pubLeaf *Leaf) {
	if !route.MatchesFromClient(pubLeaf) {
		return
	}
	for i, pub := range pubLeaf.publishers {
		if !route.MatchesPublisher(pubLeaf, pub) {
			continue
		}
		pubRef := endpointRef{leaf: pubLeaf.id, kind: publisherKind, index: i}
		g.addMatched(route.id, pubRef)

		for _, subID := range g.leafOrder {
			subLeaf := g.leaves[subID]
			if !route.MatchesPubToClient(pubLeaf, pub, subLeaf) {
				continue
			}
			for j, sub := range subLeaf.subscribers {
				if route.MatchesPair(pubLeaf, pub, subLeaf, sub) {
					g.link(pubRef, endpointRef{leaf: subLeaf.id, kind: subscriberKind, index: j}, route.id)
				}
			}
		}
	}
}

// connectRouteSubClient links subLeaf's subscribers to the publishers route
// already matches. subLeaf may not be registered yet, in which case its own
// publishers in matched resolve to it directly.
func (g *graph) connectRouteSubClient(route *Route, subLeaf *Leaf) {
	for _, pubRef := range g.matched[route.id] {
		pubLeaf := g.leaves[pubRef.leaf]
		if pubRef.leaf == subLeaf.id {
			pubLeaf = subLeaf
		}
		if pubLeaf == nil {
			continue
		}
		pub := pubLeaf.publishers[pubRef.index]
		if !route.MatchesPubToClient(pubLeaf, pub, subLeaf) {
			continue
		}
		for j, sub := range subLeaf.subscribers {
			if route.MatchesPair(pubLeaf, pub, subLeaf, sub) {
				g.link(pubRef, endpointRef{leaf: subLeaf.id, kind: subscriberKind, index: j}, route.id)
			}
		}
	}
}

// removeRouteEdges detaches routeID from every publisher it matched and
// breaks the connections it alone justified. It returns those connections as
// they were just before breaking.
func (g *graph) removeRouteEdges(routeID string) []topology.ConnectionSnapshot {
	broken := []topology.ConnectionSnapshot{}
	for _, pubRef := range g.matched[routeID] {
		g.pubRoutes[pubRef] = slices.DeleteFunc(g.pubRoutes[pubRef], func(id string) bool { return id == routeID })
		if len(g.pubRoutes[pubRef]) == 0 {
			delete(g.pubRoutes, pubRef)
		}

		for _, id := range slices.Clone(g.links[pubRef]) {
			c := g.connections[id]
			if !c.hasRoute(routeID) {
				continue
			}
			if len(c.routes) == 1 {
				broken = append(broken, g.snapshotConnection(c))
				g.breakConnection(pubRef, id)
				continue
			}
			c.removeRoute(routeID)
		}
		if len(g.links[pubRef]) == 0 {
			delete(g.links, pubRef)
		}
	}
	delete(g.matched, routeID)
	return broken
}
