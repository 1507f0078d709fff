package topology

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

// Publisher is an outbound endpoint of a client.
type Publisher struct {
	Name    string
	Type    string
	Default string
}

// Subscriber is an inbound endpoint of a client.
type Subscriber struct {
	Name string
	Type string
}

// LeafConfig describes a client as announced by a transport.
// Publishers and Subscribers accept either typed slices or loosely decoded
// JSON (a list of maps, or a {"messages": [...]} wrapper); see CleanPublishers.
type LeafConfig struct {
	Name        string
	Description string
	Metadata    any
	Publishers  any
	Subscribers any
}

// Leaf is a registered client. It is immutable once constructed: all
// connection state lives in the Manager that owns it.
type Leaf struct {
	id          string
	name        string
	description string
	metadata    topology.Metadata
	publishers  []Publisher
	subscribers []Subscriber
	send        topology.SendFunc
}

// NewLeaf builds a client from cfg. Endpoint lists and metadata are
// sanitized rather than rejected; the only failure is a nil send function.
func NewLeaf(cfg LeafConfig, send topology.SendFunc) (*Leaf, error) {
	if send == nil {
		return nil, ErrNilSendFunc
	}
	return &Leaf{
		id:          uuid.NewString(),
		name:        cfg.Name,
		description: cfg.Description,
		metadata:    topology.CleanMetadata(cfg.Metadata),
		publishers:  CleanPublishers(cfg.Publishers),
		subscribers: CleanSubscribers(cfg.Subscribers),
		send:        send,
	}, nil
}

// ID returns the client's unique identifier.
func (l *Leaf) ID() string { return l.id }

// Name returns the client's name.
func (l *Leaf) Name() string { return l.name }

// Description returns the client's description.
func (l *Leaf) Description() string { return l.description }

// Metadata returns a copy of the client's metadata.
func (l *Leaf) Metadata() topology.Metadata { return l.metadata.Clone() }

// Publishers returns a copy of the client's publishers.
func (l *Leaf) Publishers() []Publisher { return append([]Publisher(nil), l.publishers...) }

// Subscribers returns a copy of the client's subscribers.
func (l *Leaf) Subscribers() []Subscriber { return append([]Subscriber(nil), l.subscribers...) }

// Equal reports whether two leaves identify the same client: same id, or
// same name and metadata.
func (l *Leaf) Equal(other *Leaf) bool {
	if l == nil || other == nil {
		return l == other
	}
	if l.id == other.id {
		return true
	}
	return l.name == other.name && l.metadata.Equal(other.metadata)
}

func (l *Leaf) matchLeaf(candidate *Leaf) bool { return l.Equal(candidate) }

// publisherIndex finds a publisher by name and type.
func (l *Leaf) publisherIndex(name, msgType string) (int, bool) {
	for i, p := range l.publishers {
		if p.Name == name && p.Type == msgType {
			return i, true
		}
	}
	return -1, false
}

// Snapshot returns the read-only view of the client.
func (l *Leaf) Snapshot() topology.LeafSnapshot {
	pubs := make([]topology.PublisherSnapshot, len(l.publishers))
	for i, p := range l.publishers {
		pubs[i] = topology.PublisherSnapshot{Name: p.Name, Type: p.Type, Default: p.Default}
	}
	subs := make([]topology.EndpointSnapshot, len(l.subscribers))
	for i, s := range l.subscribers {
		subs[i] = topology.EndpointSnapshot{Name: s.Name, Type: s.Type}
	}
	return topology.LeafSnapshot{
		ID:          l.id,
		Name:        l.name,
		Description: l.description,
		Metadata:    l.metadata.Clone(),
		Publishers:  pubs,
		Subscribers: subs,
	}
}

// CleanPublishers converts loosely typed input into publishers. Entries
// without a name or type are dropped; scalar fields are coerced to strings.
func CleanPublishers(raw any) []Publisher {
	if typed, ok := raw.([]Publisher); ok {
		out := make([]Publisher, 0, len(typed))
		for _, p := range typed {
			if p.Name != "" && p.Type != "" {
				out = append(out, p)
			}
		}
		return out
	}

	var out []Publisher
	for _, entry := range endpointEntries(raw) {
		name, okName := coerceString(entry["name"])
		msgType, okType := coerceString(entry["type"])
		if !okName || !okType {
			continue
		}
		def, _ := coerceString(entry["default"])
		out = append(out, Publisher{Name: name, Type: msgType, Default: def})
	}
	return out
}

// CleanSubscribers converts loosely typed input into subscribers. Entries
// without a name or type are dropped; scalar fields are coerced to strings.
func CleanSubscribers(raw any) []Subscriber {
	if typed, ok := raw.([]Subscriber); ok {
		out := make([]Subscriber, 0, len(typed))
		for _, s := range typed {
			if s.Name != "" && s.Type != "" {
				out = append(out, s)
			}
		}
		return out
	}

	var out []Subscriber
	for _, entry := range endpointEntries(raw) {
		name, okName := coerceString(entry["name"])
		msgType, okType := coerceString(entry["type"])
		if !okName || !okType {
			continue
		}
		out = append(out, Subscriber{Name: name, Type: msgType})
	}
	return out
}

// endpointEntries accepts a list of maps or a {"messages": list} wrapper.
func endpointEntries(raw any) []map[string]any {
	if wrapper, ok := raw.(map[string]any); ok {
		raw = wrapper["messages"]
	}
	switch list := raw.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// coerceString renders scalars as strings. Missing, nil, empty and
// structured values report false.
func coerceString(v any) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		return s, s != ""
	case bool:
		return fmt.Sprint(s), true
	}
	if n, ok := topology.Scalar(v); ok {
		return topology.FormatScalar(n), true
	}
	return "", false
}
