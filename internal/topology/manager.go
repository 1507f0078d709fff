package topology

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/metrics"
	"github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

// Stats summarizes the size of a Manager's registries.
type Stats struct {
	Clients     int `json:"clients"`
	Routes      int `json:"routes"`
	Connections int `json:"connections"`
	Admins      int `json:"admins"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the Manager's logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics records registry sizes and callback outcomes in mm.
func WithMetrics(mm *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mm }
}

// Manager owns the clients, routes, admins and connections of one broker and
// keeps the connection graph consistent as they come and go.
//
// All state is guarded by a single lock. Admin notifications and message
// deliveries are queued while the lock is held and run after it is released,
// in the order they were queued, so callbacks may call back into the Manager.
type Manager struct {
	mu         sync.Mutex
	g          *graph
	admins     map[string]*Admin
	adminOrder []string

	dispatch dispatcher
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		g:      newGraph(),
		admins: make(map[string]*Admin),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.dispatch.done = m.jobDone
	return m
}

func (m *Manager) jobDone(j job, err error) {
	switch j.kind {
	case "admin":
		m.metrics.Notified(err)
		if err != nil {
			m.logger.Warn().Err(err).Str("admin_id", j.target).Msg("admin notification failed")
		}
	case "delivery":
		m.metrics.Delivered(err)
		if err != nil {
			m.logger.Warn().Err(err).Str("target", j.target).Msg("message delivery failed")
		}
	}
}

// unlock releases the lock and runs whatever the operation queued.
func (m *Manager) unlock() {
	m.observe()
	m.mu.Unlock()
	m.dispatch.drain()
}

// observe must be called with the lock held.
func (m *Manager) observe() {
	if m.metrics == nil {
		return
	}
	m.metrics.SetTopology(len(m.g.leaves), len(m.g.routes), len(m.g.connections), len(m.admins))
}

// AddClient registers leaf and connects its endpoints according to every
// registered route. It returns false, changing nothing, if an equal client
// is already registered.
func (m *Manager) AddClient(leaf *Leaf) bool {
	if leaf == nil {
		return false
	}
	m.mu.Lock()
	defer m.unlock()

	if m.g.findLeaf(leaf) != nil {
		return false
	}

	for _, id := range m.g.routeOrder {
		route := m.g.routes[id]
		m.g.connectRoutePubClient(route, leaf)
		m.g.connectRouteSubClient(route, leaf)
	}
	m.g.insertLeaf(leaf)

	conns := m.g.leafConnections(leaf)
	m.logger.Debug().
		Str("client_id", leaf.id).
		Str("client", leaf.name).
		Int("connections", len(conns)).
		Msg("client added")

	m.notifyAll(topology.Notification{
		Kind:        topology.NotificationAdd,
		Clients:     []topology.LeafSnapshot{leaf.Snapshot()},
		Routes:      []topology.RouteSnapshot{},
		Connections: orEmpty(conns),
	})
	return true
}

// RemoveClient unregisters the selected client and breaks every connection
// touching it. It returns false if no client matches.
func (m *Manager) RemoveClient(ref LeafRef) bool {
	if ref == nil {
		return false
	}
	m.mu.Lock()
	defer m.unlock()

	leaf := m.g.findLeaf(ref)
	if leaf == nil {
		return false
	}

	conns := m.g.leafConnections(leaf)
	m.g.cleanConnectionsFrom(subscriberRefs(leaf))
	m.g.cleanConnectionsFrom(publisherRefs(leaf))
	m.g.unmatchLeaf(leaf.id)
	m.g.deleteLeaf(leaf.id)

	m.logger.Debug().
		Str("client_id", leaf.id).
		Str("client", leaf.name).
		Int("connections", len(conns)).
		Msg("client removed")

	m.notifyAll(topology.Notification{
		Kind:        topology.NotificationRemove,
		Clients:     []topology.LeafSnapshot{leaf.Snapshot()},
		Routes:      []topology.RouteSnapshot{},
		Connections: orEmpty(conns),
	})
	return true
}

// GetClients returns a snapshot of every registered client.
func (m *Manager) GetClients() []topology.LeafSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientsLocked()
}

func (m *Manager) clientsLocked() []topology.LeafSnapshot {
	out := make([]topology.LeafSnapshot, 0, len(m.g.leafOrder))
	for _, id := range m.g.leafOrder {
		out = append(out, m.g.leaves[id].Snapshot())
	}
	return out
}

// Client returns the snapshot of the client with the given id.
func (m *Manager) Client(id string) (topology.LeafSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	leaf, ok := m.g.leaves[id]
	if !ok {
		return topology.LeafSnapshot{}, false
	}
	return leaf.Snapshot(), true
}

// FindClient returns the snapshot of the first client selected by ref.
func (m *Manager) FindClient(ref LeafRef) (topology.LeafSnapshot, bool) {
	if ref == nil {
		return topology.LeafSnapshot{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	leaf := m.g.findLeaf(ref)
	if leaf == nil {
		return topology.LeafSnapshot{}, false
	}
	return leaf.Snapshot(), true
}

// AddRoute registers route and connects every pair it matches. Admins are
// told only about connections this route created. It returns false,
// changing nothing, if a route with the same rule is already registered.
func (m *Manager) AddRoute(route *Route) bool {
	if route == nil {
		return false
	}
	m.mu.Lock()
	defer m.unlock()

	if m.g.findRoute(route) != nil {
		return false
	}

	for _, id := range m.g.leafOrder {
		m.g.connectRoutePubClient(route, m.g.leaves[id])
	}
	m.g.insertRoute(route)

	created := []topology.ConnectionSnapshot{}
	for _, c := range m.g.allConnections() {
		if len(c.RouteIDs) == 1 && c.RouteIDs[0] == route.id {
			created = append(created, c)
		}
	}

	m.logger.Debug().
		Str("route_id", route.id).
		Str("style", route.Style()).
		Int("connections", len(created)).
		Msg("route added")

	m.notifyAll(topology.Notification{
		Kind:        topology.NotificationAdd,
		Clients:     []topology.LeafSnapshot{},
		Routes:      []topology.RouteSnapshot{route.Snapshot()},
		Connections: created,
	})
	return true
}

// RemoveRoute unregisters the selected route, detaching it from every
// connection and breaking those it alone justified. It returns false if no
// route matches.
func (m *Manager) RemoveRoute(ref RouteRef) bool {
	if ref == nil {
		return false
	}
	m.mu.Lock()
	defer m.unlock()

	route := m.g.findRoute(ref)
	if route == nil {
		return false
	}

	broken := m.g.removeRouteEdges(route.id)
	m.g.deleteRoute(route.id)

	m.logger.Debug().
		Str("route_id", route.id).
		Int("connections", len(broken)).
		Msg("route removed")

	m.notifyAll(topology.Notification{
		Kind:        topology.NotificationRemove,
		Clients:     []topology.LeafSnapshot{},
		Routes:      []topology.RouteSnapshot{route.Snapshot()},
		Connections: broken,
	})
	return true
}

// GetRoutes returns a snapshot of every registered route.
func (m *Manager) GetRoutes() []topology.RouteSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.routesLocked()
}

func (m *Manager) routesLocked() []topology.RouteSnapshot {
	out := make([]topology.RouteSnapshot, 0, len(m.g.routeOrder))
	for _, id := range m.g.routeOrder {
		out = append(out, m.g.routes[id].Snapshot())
	}
	return out
}

// GetConnections returns every live connection once.
func (m *Manager) GetConnections() []topology.ConnectionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.g.allConnections()
}

// AddAdmin registers admin and queues a full snapshot for it ahead of any
// later notification. It returns false if the admin is already registered.
func (m *Manager) AddAdmin(admin *Admin) bool {
	if admin == nil {
		return false
	}
	m.mu.Lock()
	defer m.unlock()

	if _, ok := m.admins[admin.id]; ok {
		return false
	}
	m.admins[admin.id] = admin
	m.adminOrder = append(m.adminOrder, admin.id)

	m.logger.Debug().Str("admin_id", admin.id).Bool("no_msgs", admin.options.NoMsgs).Msg("admin added")

	m.notify(admin, topology.Notification{
		Kind:        topology.NotificationAdd,
		Clients:     m.clientsLocked(),
		Routes:      m.routesLocked(),
		Connections: m.g.allConnections(),
	})
	return true
}

// RemoveAdmin unregisters the selected admin. It returns false if no admin
// matches.
func (m *Manager) RemoveAdmin(ref AdminRef) bool {
	if ref == nil {
		return false
	}
	m.mu.Lock()
	defer m.unlock()

	for i, id := range m.adminOrder {
		if a := m.admins[id]; ref.matchAdmin(a) {
			delete(m.admins, id)
			m.adminOrder = append(m.adminOrder[:i:i], m.adminOrder[i+1:]...)
			m.logger.Debug().Str("admin_id", id).Msg("admin removed")
			return true
		}
	}
	return false
}

// Admins returns the number of registered admins.
func (m *Manager) Admins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.admins)
}

// Published routes payload from the named publisher of the selected client
// to every connected subscriber, and reports it to every admin. Unknown
// clients and publishers are ignored.
func (m *Manager) Published(ref LeafRef, publisher, msgType string, payload any) {
	if ref == nil {
		return
	}
	m.mu.Lock()
	defer m.unlock()

	leaf := m.g.findLeaf(ref)
	if leaf == nil {
		return
	}
	idx, ok := leaf.publisherIndex(publisher, msgType)
	if !ok {
		return
	}
	m.metrics.Published()

	client := leaf.Snapshot()
	for _, id := range m.adminOrder {
		admin := m.admins[id]
		published := &topology.PublishedMessage{
			Client:    client,
			Publisher: topology.EndpointSnapshot{Name: publisher, Type: msgType},
		}
		if !admin.options.NoMsgs {
			published.Message = payload
			published.HasMessage = true
		}
		m.notify(admin, topology.Notification{
			Kind:        topology.NotificationPublished,
			Clients:     []topology.LeafSnapshot{},
			Routes:      []topology.RouteSnapshot{},
			Connections: []topology.ConnectionSnapshot{},
			Published:   published,
		})
	}

	pubRef := endpointRef{leaf: leaf.id, kind: publisherKind, index: idx}
	jobs := make([]job, 0, len(m.g.links[pubRef]))
	for _, cid := range m.g.links[pubRef] {
		c := m.g.connections[cid]
		subLeaf := m.g.leaves[c.sub.leaf]
		sub := subLeaf.subscribers[c.sub.index]
		send := subLeaf.send
		jobs = append(jobs, job{
			kind:   "delivery",
			target: subLeaf.id + "/" + sub.Name,
			run:    func() error { return send(sub.Name, sub.Type, payload) },
		})
	}
	m.dispatch.push(jobs...)
}

// Stats returns the current registry sizes.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Clients:     len(m.g.leaves),
		Routes:      len(m.g.routes),
		Connections: len(m.g.connections),
		Admins:      len(m.admins),
	}
}

func (m *Manager) notifyAll(n topology.Notification) {
	for _, id := range m.adminOrder {
		m.notify(m.admins[id], n)
	}
}

func (m *Manager) notify(admin *Admin, n topology.Notification) {
	sink := admin.sink
	m.dispatch.push(job{
		kind:   "admin",
		target: admin.id,
		run:    func() error { return sink.Notify(n) },
	})
}

func orEmpty(conns []topology.ConnectionSnapshot) []topology.ConnectionSnapshot {
	if conns == nil {
		return []topology.ConnectionSnapshot{}
	}
	return conns
}
