package topology

// Route styles
const (
	StyleString = "string"
	StyleUUID   = "uuid"
	StyleRegexp = "regexp"
)

// Styles lists every supported route style.
var Styles = []string{StyleString, StyleUUID, StyleRegexp}

// EndpointSnapshot names a subscriber endpoint (or a publisher when the
// default value is irrelevant).
type EndpointSnapshot struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// PublisherSnapshot describes a publisher endpoint of a client.
type PublisherSnapshot struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Default string `json:"default"`
}

// LeafSnapshot is the read-only view of a registered client.
type LeafSnapshot struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Metadata    Metadata            `json:"metadata"`
	Publishers  []PublisherSnapshot `json:"publishers"`
	Subscribers []EndpointSnapshot  `json:"subscribers"`
}

// MetadataPatternDefinition is one {key, value} regular expression pair of a
// regexp-style route. The value pattern may backreference key captures.
type MetadataPatternDefinition struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// EndpointDefinition identifies one side of a route. UUID-style routes set
// UUID only; string and regexp routes set Name and Metadata.
//
// Metadata is a flat map for string routes and a list of
// MetadataPatternDefinition-shaped entries for regexp routes. It is left
// untyped so that malformed input can be rejected with a precise error.
type EndpointDefinition struct {
	UUID     string `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Metadata any    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// RouteDefinition is the declarative form of a route, as accepted over the
// wire and in configuration files.
type RouteDefinition struct {
	Style string             `json:"style" yaml:"style"`
	Type  string             `json:"type" yaml:"type"`
	From  EndpointDefinition `json:"from" yaml:"from"`
	To    EndpointDefinition `json:"to" yaml:"to"`
}

// RouteSnapshot is the read-only view of a registered route.
type RouteSnapshot struct {
	ID string `json:"id" yaml:"id"`
	RouteDefinition `yaml:",inline"`
}

// EndpointAddress locates an endpoint on a specific client.
type EndpointAddress struct {
	LeafID   string `json:"leafId"`
	Endpoint string `json:"endpoint"`
}

// ConnectionSnapshot is the read-only view of a publisher to subscriber edge.
// RouteIDs lists every route currently justifying the edge.
type ConnectionSnapshot struct {
	Type     string          `json:"type"`
	From     EndpointAddress `json:"from"`
	To       EndpointAddress `json:"to"`
	RouteIDs []string        `json:"routeIds"`
}
