package jsoncomm

import (
	pubtopology "github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

// Route update types
const (
	RouteAdd    = "add"
	RouteRemove = "remove"
)

// TargetAdmin marks messages addressed to admin clients.
const TargetAdmin = "admin"

// ClientMessage is a routed message delivered to a subscriber.
type ClientMessage struct {
	Message ClientMessageBody `json:"message"`
}

// ClientMessageBody names the receiving subscriber endpoint.
type ClientMessageBody struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Value      any    `json:"value"`
	ClientName string `json:"clientName"`
}

// ConfigMessage announces a client to admins.
type ConfigMessage struct {
	Config ClientConfig `json:"config"`
}

// ClientConfig is the admin view of a client's configuration.
type ClientConfig struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Publish       PublisherList  `json:"publish"`
	Subscribe     SubscriberList `json:"subscribe"`
	Options       map[string]any `json:"options"`
	RemoteAddress string         `json:"remoteAddress,omitempty"`
}

// PublisherList wraps publisher endpoints the way clients declare them.
type PublisherList struct {
	Messages []pubtopology.PublisherSnapshot `json:"messages"`
}

// SubscriberList wraps subscriber endpoints the way clients declare them.
type SubscriberList struct {
	Messages []pubtopology.EndpointSnapshot `json:"messages"`
}

// RemoveMessage tells admins a client went away.
type RemoveMessage struct {
	Remove     []RemovedClient `json:"remove"`
	TargetType string          `json:"targetType"`
}

// RemovedClient identifies a removed client.
type RemovedClient struct {
	Name          string `json:"name"`
	RemoteAddress string `json:"remoteAddress,omitempty"`
}

// RouteMessage adds or removes a connection. Admins send it to change the
// topology and receive it when connections change.
type RouteMessage struct {
	Route RouteUpdate `json:"route"`
}

// RouteUpdate is the body of a RouteMessage.
type RouteUpdate struct {
	Type       string        `json:"type"`
	Publisher  RouteEndpoint `json:"publisher"`
	Subscriber RouteEndpoint `json:"subscriber"`
}

// RouteEndpoint locates one end of a connection by client name and address.
type RouteEndpoint struct {
	ClientName    string `json:"clientName"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	RemoteAddress string `json:"remoteAddress"`
}

// PublishedMessage reports a published message to admins.
type PublishedMessage struct {
	Message    PublishedBody `json:"message"`
	TargetType string        `json:"targetType"`
}

// PublishedBody omits Value when the admin asked for no payloads.
type PublishedBody struct {
	ClientName    string `json:"clientName"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	RemoteAddress string `json:"remoteAddress,omitempty"`
	Value         any    `json:"value,omitempty"`
}

// inbound shapes; endpoint lists stay untyped so leaf cleaning can be lenient
type inboundMessage struct {
	Config  *inboundConfig  `json:"config"`
	Message *inboundPublish `json:"message"`
	Admin   any             `json:"admin"`
	Route   *RouteUpdate    `json:"route"`
}

type inboundConfig struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Publish     any    `json:"publish"`
	Subscribe   any    `json:"subscribe"`
}

type inboundPublish struct {
	ClientName string `json:"clientName"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Value      any    `json:"value"`
}
