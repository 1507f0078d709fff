package topology

import (
	"fmt"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/pattern"
	"github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

// ParseRoute builds a route from its declarative form. Unlike client
// construction, every shape violation is an error.
func ParseRoute(def topology.RouteDefinition) (*Route, error) {
	var spec Spec
	var err error

	switch def.Style {
	case topology.StyleString:
		spec, err = parseStringSpec(def)
	case topology.StyleUUID:
		spec, err = parseUUIDSpec(def)
	case topology.StyleRegexp:
		spec, err = parseRegexpSpec(def)
	default:
		return nil, fmt.Errorf("%w: got %q", ErrInvalidStyle, def.Style)
	}
	if err != nil {
		return nil, err
	}
	return NewRoute(spec)
}

func parseStringSpec(def topology.RouteDefinition) (Spec, error) {
	from, err := parseNamedEndpoint("from", def.From)
	if err != nil {
		return nil, err
	}
	to, err := parseNamedEndpoint("to", def.To)
	if err != nil {
		return nil, err
	}
	return StringSpec{Type: def.Type, From: from, To: to}, nil
}

func parseNamedEndpoint(side string, e topology.EndpointDefinition) (NamedEndpoint, error) {
	if e.UUID != "" {
		return NamedEndpoint{}, fmt.Errorf("%w: %s.uuid is not allowed for string routes", ErrInvalidRouteField, side)
	}
	md, err := strictMetadata(e.Metadata)
	if err != nil {
		return NamedEndpoint{}, fmt.Errorf("%w: %s.metadata: %v", ErrInvalidRouteField, side, err)
	}
	return NamedEndpoint{Name: e.Name, Metadata: md, Endpoint: e.Endpoint}, nil
}

// strictMetadata accepts only flat maps of scalars.
func strictMetadata(raw any) (topology.Metadata, error) {
	out := make(topology.Metadata)
	switch m := raw.(type) {
	case nil:
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	case topology.Metadata:
		for k, v := range m {
			s, ok := topology.Scalar(v)
			if !ok {
				return nil, fmt.Errorf("value of %q is not a string or number", k)
			}
			out[k] = s
		}
	case map[string]any:
		for k, v := range m {
			s, ok := topology.Scalar(v)
			if !ok {
				return nil, fmt.Errorf("value of %q is not a string or number", k)
			}
			out[k] = s
		}
	default:
		return nil, fmt.Errorf("must be a map, got %T", raw)
	}
	return out, nil
}

func parseUUIDSpec(def topology.RouteDefinition) (Spec, error) {
	for side, e := range map[string]topology.EndpointDefinition{"from": def.From, "to": def.To} {
		if e.Name != "" || e.Metadata != nil {
			return nil, fmt.Errorf("%w: %s must be a client id, not a name/metadata object", ErrInvalidRouteField, side)
		}
	}
	return UUIDSpec{
		Type: def.Type,
		From: IDEndpoint{Leaf: def.From.UUID, Endpoint: def.From.Endpoint},
		To:   IDEndpoint{Leaf: def.To.UUID, Endpoint: def.To.Endpoint},
	}, nil
}

func parseRegexpSpec(def topology.RouteDefinition) (Spec, error) {
	typ, err := compileField("type", def.Type)
	if err != nil {
		return nil, err
	}
	from, err := parsePatternEndpoint("from", def.From)
	if err != nil {
		return nil, err
	}
	to, err := parsePatternEndpoint("to", def.To)
	if err != nil {
		return nil, err
	}
	return RegexpSpec{Type: typ, From: from, To: to}, nil
}

func parsePatternEndpoint(side string, e topology.EndpointDefinition) (PatternEndpoint, error) {
	if e.UUID != "" {
		return PatternEndpoint{}, fmt.Errorf("%w: %s.uuid is not allowed for regexp routes", ErrInvalidRouteField, side)
	}
	name, err := compileField(side+".name", e.Name)
	if err != nil {
		return PatternEndpoint{}, err
	}
	endpoint, err := compileField(side+".endpoint", e.Endpoint)
	if err != nil {
		return PatternEndpoint{}, err
	}
	md, err := metadataPatterns(e.Metadata)
	if err != nil {
		return PatternEndpoint{}, fmt.Errorf("%s.metadata: %w", side, err)
	}
	return PatternEndpoint{Name: name, Metadata: md, Endpoint: endpoint}, nil
}

func compileField(field, source string) (*pattern.Pattern, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: %s pattern is required", ErrInvalidRouteField, field)
	}
	p, err := pattern.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRouteField, field, err)
	}
	return p, nil
}

// metadataPatterns accepts typed definitions or a decoded list of
// {"key": ..., "value": ...} maps.
func metadataPatterns(raw any) ([]pattern.MetadataPattern, error) {
	var defs []topology.MetadataPatternDefinition

	switch list := raw.(type) {
	case nil:
		return nil, nil
	case []topology.MetadataPatternDefinition:
		defs = list
	case []any:
		for i, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: entry %d is %T", ErrInvalidMetadataPattern, i, item)
			}
			key, okKey := m["key"].(string)
			value, okValue := m["value"].(string)
			if !okKey || !okValue {
				return nil, fmt.Errorf("%w: entry %d", ErrInvalidMetadataPattern, i)
			}
			defs = append(defs, topology.MetadataPatternDefinition{Key: key, Value: value})
		}
	default:
		return nil, fmt.Errorf("%w: got %T", ErrInvalidMetadataPattern, raw)
	}

	out := make([]pattern.MetadataPattern, 0, len(defs))
	for i, d := range defs {
		key, err := pattern.Compile(d.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d key: %v", ErrInvalidMetadataPattern, i, err)
		}
		value, err := pattern.Compile(d.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d value: %v", ErrInvalidMetadataPattern, i, err)
		}
		out = append(out, pattern.MetadataPattern{Key: key, Value: value})
	}
	return out, nil
}
