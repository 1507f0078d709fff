package topology

import "github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"

// LeafRef selects a registered client. *Leaf is itself a LeafRef.
type LeafRef interface {
	matchLeaf(*Leaf) bool
}

type leafByID string

func (id leafByID) matchLeaf(l *Leaf) bool { return l.id == string(id) }

type leafByName struct {
	name     string
	metadata topology.Metadata
}

func (r leafByName) matchLeaf(l *Leaf) bool {
	return l.name == r.name && l.metadata.Equal(r.metadata)
}

// LeafByID selects the client with the given id.
func LeafByID(id string) LeafRef { return leafByID(id) }

// LeafByName selects the client with the given name and metadata.
// Metadata is cleaned the same way client metadata is.
func LeafByName(name string, metadata any) LeafRef {
	return leafByName{name: name, metadata: topology.CleanMetadata(metadata)}
}

// RouteRef selects a registered route. *Route is itself a RouteRef and
// matches any route carrying the same rule.
type RouteRef interface {
	matchRoute(*Route) bool
}

type routeByID string

func (id routeByID) matchRoute(r *Route) bool { return r.id == string(id) }

// RouteByID selects the route with the given id.
func RouteByID(id string) RouteRef { return routeByID(id) }

// AdminRef selects a registered admin. *Admin is itself an AdminRef.
type AdminRef interface {
	matchAdmin(*Admin) bool
}

type adminByID string

func (id adminByID) matchAdmin(a *Admin) bool { return a.id == string(id) }

// AdminByID selects the admin with the given id.
func AdminByID(id string) AdminRef { return adminByID(id) }
