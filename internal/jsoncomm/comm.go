// Package jsoncomm translates between Spacebrew JSON messages and the
// topology manager. Transports hand it raw frames together with the
// connection they arrived on; it registers clients and admins, routes
// published messages and applies route changes.
package jsoncomm

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/topology"
	pubtopology "github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "spacebrew-message.json"

var (
	// ErrInvalidJSON is returned when a frame is not a JSON object
	ErrInvalidJSON = errors.New("message is not valid JSON")
	// ErrInvalidMessage is returned when a message fails schema validation
	ErrInvalidMessage = errors.New("message failed validation")
	// ErrNilManager is returned when no manager is given
	ErrNilManager = errors.New("manager is required")
)

// Handle is the transport connection a message arrived on. Send must not
// block: it is called while the manager delivers messages.
type Handle interface {
	Send(msg any) error
}

// Kind identifies what a handled message did.
type Kind string

const (
	KindNone    Kind = ""
	KindConfig  Kind = "config"
	KindMessage Kind = "message"
	KindAdmin   Kind = "admin"
	KindRoute   Kind = "route"
)

// Result describes the effect of one handled message. Transports keep
// Leaf and Admin so they can unregister them when the connection closes.
type Result struct {
	Kind  Kind
	Leaf  *topology.Leaf
	Admin *topology.Admin
	Route *topology.Route
}

// Comm handles JSON messages for one manager. It is safe for concurrent
// use by many connections.
type Comm struct {
	manager *topology.Manager
	schema  *jsonschema.Schema
	logger  zerolog.Logger
}

// Option configures a Comm.
type Option func(*Comm)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Comm) { c.logger = logger }
}

// New compiles the message schema and binds it to manager.
func New(manager *topology.Manager, opts ...Option) (*Comm, error) {
	if manager == nil {
		return nil, ErrNilManager
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	c := &Comm{
		manager: manager,
		schema:  schema,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("decode message schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add message schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile message schema: %w", err)
	}
	return schema, nil
}

// Validate checks raw against the message schema.
func (c *Comm) Validate(raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	if err := c.schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return nil
}

// HandleMessage validates raw and applies it. metadata identifies the
// sending connection, typically {"ip": remote address}. Messages are
// checked for config, message, admin and route keys in that order and only
// the first present one is applied.
func (c *Comm) HandleMessage(raw []byte, metadata pubtopology.Metadata, handle Handle) (Result, error) {
	if err := c.Validate(raw); err != nil {
		c.logger.Warn().Err(err).Msg("dropping invalid message")
		return Result{}, err
	}

	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}

	switch {
	case msg.Config != nil:
		leaf, err := c.handleConfig(msg.Config, metadata, handle)
		return Result{Kind: KindConfig, Leaf: leaf}, err
	case msg.Message != nil:
		c.handlePublished(msg.Message, metadata)
		return Result{Kind: KindMessage}, nil
	case truthy(msg.Admin):
		var options map[string]any
		if err := json.Unmarshal(raw, &options); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}
		delete(options, "admin")
		admin, err := c.handleAdmin(options, handle)
		return Result{Kind: KindAdmin, Admin: admin}, err
	case msg.Route != nil:
		route, err := c.handleRoute(msg.Route)
		return Result{Kind: KindRoute, Route: route}, err
	}
	return Result{}, nil
}

func (c *Comm) handleConfig(cfg *inboundConfig, metadata pubtopology.Metadata, handle Handle) (*topology.Leaf, error) {
	clientName := cfg.Name
	send := func(endpoint, msgType string, payload any) error {
		return handle.Send(ClientMessage{Message: ClientMessageBody{
			Name:       endpoint,
			Type:       msgType,
			Value:      payload,
			ClientName: clientName,
		}})
	}

	leaf, err := topology.NewLeaf(topology.LeafConfig{
		Name:        cfg.Name,
		Description: cfg.Description,
		Metadata:    metadata,
		Publishers:  cfg.Publish,
		Subscribers: cfg.Subscribe,
	}, send)
	if err != nil {
		return nil, err
	}
	if !c.manager.AddClient(leaf) {
		c.logger.Info().Str("client", cfg.Name).Msg("client already registered")
		return nil, nil
	}
	return leaf, nil
}

func (c *Comm) handlePublished(msg *inboundPublish, metadata pubtopology.Metadata) {
	c.manager.Published(topology.LeafByName(msg.ClientName, metadata), msg.Name, msg.Type, msg.Value)
}

func (c *Comm) handleAdmin(options map[string]any, handle Handle) (*topology.Admin, error) {
	admin, err := topology.NewAdmin(pubtopology.AdminSinkFunc(func(n pubtopology.Notification) error {
		out := c.translate(n)
		if out == nil {
			return nil
		}
		return handle.Send(out)
	}), options)
	if err != nil {
		return nil, err
	}
	c.manager.AddAdmin(admin)
	return admin, nil
}

// handleRoute applies a route change between two named clients. Publisher
// and subscriber types must agree; anything else is ignored.
func (c *Comm) handleRoute(update *RouteUpdate) (*topology.Route, error) {
	pub, sub := update.Publisher, update.Subscriber
	if pub.Type != sub.Type {
		c.logger.Debug().Str("publisher_type", pub.Type).Str("subscriber_type", sub.Type).Msg("ignoring route between mismatched types")
		return nil, nil
	}

	route, err := topology.ParseRoute(RouteDefinition(update))
	if err != nil {
		return nil, err
	}

	switch update.Type {
	case RouteAdd:
		c.manager.AddRoute(route)
		return route, nil
	case RouteRemove:
		c.manager.RemoveRoute(route)
		return route, nil
	}
	return nil, nil
}

// RouteDefinition converts a route update into the string-style route it
// describes. Clients are identified by name and {"ip": remoteAddress}.
func RouteDefinition(update *RouteUpdate) pubtopology.RouteDefinition {
	return pubtopology.RouteDefinition{
		Style: pubtopology.StyleString,
		Type:  update.Publisher.Type,
		From: pubtopology.EndpointDefinition{
			Name:     update.Publisher.ClientName,
			Metadata: map[string]any{"ip": update.Publisher.RemoteAddress},
			Endpoint: update.Publisher.Name,
		},
		To: pubtopology.EndpointDefinition{
			Name:     update.Subscriber.ClientName,
			Metadata: map[string]any{"ip": update.Subscriber.RemoteAddress},
			Endpoint: update.Subscriber.Name,
		},
	}
}

func truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return b != ""
	case float64:
		return b != 0
	}
	return true
}
