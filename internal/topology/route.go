package topology

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/pattern"
	"github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

// Spec is the matching rule of a route. It is one of StringSpec, UUIDSpec
// or RegexpSpec.
type Spec interface {
	style() string
}

// NamedEndpoint identifies one side of a string-style route by exact client
// name, exact metadata and exact endpoint name.
type NamedEndpoint struct {
	Name     string
	Metadata topology.Metadata
	Endpoint string
}

// StringSpec matches publishers and subscribers by exact string equality.
type StringSpec struct {
	Type string
	From NamedEndpoint
	To   NamedEndpoint
}

func (StringSpec) style() string { return topology.StyleString }

// IDEndpoint identifies one side of a uuid-style route by client id.
type IDEndpoint struct {
	Leaf     string
	Endpoint string
}

// UUIDSpec matches publishers and subscribers of two specific clients.
type UUIDSpec struct {
	Type string
	From IDEndpoint
	To   IDEndpoint
}

func (UUIDSpec) style() string { return topology.StyleUUID }

// PatternEndpoint identifies one side of a regexp-style route.
type PatternEndpoint struct {
	Name     *pattern.Pattern
	Metadata []pattern.MetadataPattern
	Endpoint *pattern.Pattern
}

// RegexpSpec matches with regular expressions. Patterns are applied as a
// single backreference chain in the order from name, type, from endpoint,
// to name, to endpoint, so later patterns may refer to groups captured by
// earlier ones.
type RegexpSpec struct {
	Type *pattern.Pattern
	From PatternEndpoint
	To   PatternEndpoint
}

func (RegexpSpec) style() string { return topology.StyleRegexp }

// Route is a registered matching rule. Routes are immutable; the publishers
// a route currently matches are tracked by the Manager.
type Route struct {
	id   string
	spec Spec
}

// NewRoute validates spec and returns a route with a fresh id.
func NewRoute(spec Spec) (*Route, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	return &Route{id: uuid.NewString(), spec: spec}, nil
}

func validateSpec(spec Spec) error {
	switch s := spec.(type) {
	case StringSpec:
		for k, v := range s.From.Metadata {
			if _, ok := topology.Scalar(v); !ok {
				return fmt.Errorf("%w: from metadata %q is not a scalar", ErrInvalidRouteField, k)
			}
		}
		for k, v := range s.To.Metadata {
			if _, ok := topology.Scalar(v); !ok {
				return fmt.Errorf("%w: to metadata %q is not a scalar", ErrInvalidRouteField, k)
			}
		}
	case UUIDSpec:
		if s.From.Leaf == "" || s.To.Leaf == "" {
			return fmt.Errorf("%w: from and to must be client ids", ErrInvalidRouteField)
		}
	case RegexpSpec:
		if s.Type == nil || s.From.Name == nil || s.From.Endpoint == nil ||
			s.To.Name == nil || s.To.Endpoint == nil {
			return fmt.Errorf("%w: type, names and endpoints must all be patterns for regexp routes", ErrInvalidRouteField)
		}
		for _, list := range [][]pattern.MetadataPattern{s.From.Metadata, s.To.Metadata} {
			for i, mp := range list {
				if mp.Key == nil || mp.Value == nil {
					return fmt.Errorf("%w: entry %d", ErrInvalidMetadataPattern, i)
				}
			}
		}
	case nil:
		return ErrInvalidStyle
	default:
		return fmt.Errorf("%w: %T", ErrInvalidStyle, spec)
	}
	return nil
}

// ID returns the route's unique identifier.
func (r *Route) ID() string { return r.id }

// Style returns one of the topology.Style constants.
func (r *Route) Style() string { return r.spec.style() }

// Spec returns the route's matching rule.
func (r *Route) Spec() Spec { return r.spec }

func (r *Route) matchRoute(candidate *Route) bool {
	if r == nil {
		return false
	}
	return r.id == candidate.id || r.Matches(candidate)
}

// Matches reports whether both routes carry the same rule. Patterns are
// compared by source text.
func (r *Route) Matches(other *Route) bool {
	if r == nil || other == nil {
		return r == other
	}
	switch a := r.spec.(type) {
	case StringSpec:
		b, ok := other.spec.(StringSpec)
		return ok && a.Type == b.Type &&
			namedEqual(a.From, b.From) && namedEqual(a.To, b.To)
	case UUIDSpec:
		b, ok := other.spec.(UUIDSpec)
		return ok && a == b
	case RegexpSpec:
		b, ok := other.spec.(RegexpSpec)
		return ok && a.Type.Equal(b.Type) &&
			patternEndpointEqual(a.From, b.From) && patternEndpointEqual(a.To, b.To)
	}
	return false
}

func namedEqual(a, b NamedEndpoint) bool {
	return a.Name == b.Name && a.Endpoint == b.Endpoint && a.Metadata.Equal(b.Metadata)
}

func patternEndpointEqual(a, b PatternEndpoint) bool {
	return a.Name.Equal(b.Name) && a.Endpoint.Equal(b.Endpoint) &&
		pattern.MetadataPatternsEqual(a.Metadata, b.Metadata)
}

// MatchesFromClient tests the publishing client's identity only.
func (r *Route) MatchesFromClient(leaf *Leaf) bool {
	switch s := r.spec.(type) {
	case StringSpec:
		return leaf.name == s.From.Name && leaf.metadata.Equal(s.From.Metadata)
	case UUIDSpec:
		return leaf.id == s.From.Leaf
	case RegexpSpec:
		return s.From.Name.MatchString(leaf.name) &&
			pattern.MetadataMatch(s.From.Metadata, leaf.metadata.Strings())
	}
	return false
}

// MatchesPublisher tests the publishing client and one of its publishers.
func (r *Route) MatchesPublisher(leaf *Leaf, pub Publisher) bool {
	if !r.MatchesFromClient(leaf) {
		return false
	}
	switch s := r.spec.(type) {
	case StringSpec:
		return pub.Name == s.From.Endpoint
	case UUIDSpec:
		return pub.Name == s.From.Endpoint
	case RegexpSpec:
		return pattern.ChainMatch(
			[]*pattern.Pattern{s.From.Name, s.Type, s.From.Endpoint},
			[]string{leaf.name, pub.Type, pub.Name},
		)
	}
	return false
}

// MatchesPubToClient additionally tests the identity of a candidate
// subscribing client.
func (r *Route) MatchesPubToClient(leaf *Leaf, pub Publisher, subLeaf *Leaf) bool {
	if !r.MatchesPublisher(leaf, pub) {
		return false
	}
	switch s := r.spec.(type) {
	case StringSpec:
		return subLeaf.name == s.To.Name && subLeaf.metadata.Equal(s.To.Metadata)
	case UUIDSpec:
		return subLeaf.id == s.To.Leaf
	case RegexpSpec:
		return pattern.ChainMatch(
			[]*pattern.Pattern{s.From.Name, s.Type, s.From.Endpoint, s.To.Name},
			[]string{leaf.name, pub.Type, pub.Name, subLeaf.name},
		) && pattern.MetadataMatch(s.To.Metadata, subLeaf.metadata.Strings())
	}
	return false
}

// MatchesPair tests a complete publisher to subscriber edge. The publisher
// and subscriber types must always agree.
func (r *Route) MatchesPair(leaf *Leaf, pub Publisher, subLeaf *Leaf, sub Subscriber) bool {
	if !r.MatchesPubToClient(leaf, pub, subLeaf) || pub.Type != sub.Type {
		return false
	}
	switch s := r.spec.(type) {
	case StringSpec:
		return sub.Name == s.To.Endpoint
	case UUIDSpec:
		return sub.Name == s.To.Endpoint
	case RegexpSpec:
		return pattern.ChainMatch(
			[]*pattern.Pattern{s.From.Name, s.Type, s.From.Endpoint, s.To.Name, s.To.Endpoint},
			[]string{leaf.name, pub.Type, pub.Name, subLeaf.name, sub.Name},
		)
	}
	return false
}

// Definition renders the route in its declarative form.
func (r *Route) Definition() topology.RouteDefinition {
	def := topology.RouteDefinition{Style: r.Style()}
	switch s := r.spec.(type) {
	case StringSpec:
		def.Type = s.Type
		def.From = topology.EndpointDefinition{Name: s.From.Name, Metadata: s.From.Metadata.Clone(), Endpoint: s.From.Endpoint}
		def.To = topology.EndpointDefinition{Name: s.To.Name, Metadata: s.To.Metadata.Clone(), Endpoint: s.To.Endpoint}
	case UUIDSpec:
		def.Type = s.Type
		def.From = topology.EndpointDefinition{UUID: s.From.Leaf, Endpoint: s.From.Endpoint}
		def.To = topology.EndpointDefinition{UUID: s.To.Leaf, Endpoint: s.To.Endpoint}
	case RegexpSpec:
		def.Type = s.Type.String()
		def.From = patternDefinition(s.From)
		def.To = patternDefinition(s.To)
	}
	return def
}

func patternDefinition(e PatternEndpoint) topology.EndpointDefinition {
	md := make([]topology.MetadataPatternDefinition, len(e.Metadata))
	for i, mp := range e.Metadata {
		md[i] = topology.MetadataPatternDefinition{Key: mp.Key.String(), Value: mp.Value.String()}
	}
	return topology.EndpointDefinition{Name: e.Name.String(), Metadata: md, Endpoint: e.Endpoint.String()}
}

// Snapshot returns the read-only view of the route.
func (r *Route) Snapshot() topology.RouteSnapshot {
	return topology.RouteSnapshot{ID: r.id, RouteDefinition: r.Definition()}
}
