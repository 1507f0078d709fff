package httpclient

import (
	"time"

	pubtopology "github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the broker HTTP API (e.g., "http://localhost:9092")
	ServerURL string

	// ClientID is the identifier used to log in; "admin" gets admin rights
	ClientID string

	// Timeout for HTTP requests
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ClientsResponse lists registered clients
type ClientsResponse struct {
	Clients []pubtopology.LeafSnapshot `json:"clients"`
}

// RoutesResponse lists registered routes
type RoutesResponse struct {
	Routes []pubtopology.RouteSnapshot `json:"routes"`
}

// ConnectionsResponse lists live connections
type ConnectionsResponse struct {
	Connections []pubtopology.ConnectionSnapshot `json:"connections"`
}

// AddRouteResponse reports whether a route was added
type AddRouteResponse struct {
	Added bool                       `json:"added"`
	Route *pubtopology.RouteSnapshot `json:"route,omitempty"`
}

// RemoveResponse reports whether something was removed
type RemoveResponse struct {
	Removed bool `json:"removed"`
}

// StatsResponse represents registry sizes
type StatsResponse struct {
	Clients     int `json:"clients"`
	Routes      int `json:"routes"`
	Connections int `json:"connections"`
	Admins      int `json:"admins"`
	LinkClients int `json:"linkClients"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy     bool   `json:"healthy"`
	Clients     int    `json:"clients"`
	Routes      int    `json:"routes"`
	Connections int    `json:"connections"`
	Admins      int    `json:"admins"`
	LinkClients int    `json:"linkClients"`
	Message     string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// LinkClientConfig describes an HTTP poll client
type LinkClientConfig struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Publish     LinkPublishers  `json:"publish"`
	Subscribe   LinkSubscribers `json:"subscribe"`
}

// LinkPublishers wraps the publisher list
type LinkPublishers struct {
	Messages []LinkEndpoint `json:"messages"`
}

// LinkSubscribers wraps the subscriber list
type LinkSubscribers struct {
	Messages []LinkEndpoint `json:"messages"`
}

// LinkEndpoint is a publisher or subscriber. BufferSize only applies to
// subscribers; zero means the server default.
type LinkEndpoint struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Default    any    `json:"default,omitempty"`
	BufferSize int    `json:"bufferSize,omitempty"`
}

// LinkRegisterResponse identifies a registered poll client
type LinkRegisterResponse struct {
	ClientID string `json:"clientId"`
	LeafID   string `json:"leafId"`
	Name     string `json:"name"`
}

// LinkMessage is one value received by a poll client subscriber
type LinkMessage struct {
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Value    any       `json:"value"`
	Received time.Time `json:"received"`
}

// LinkMessagesResponse carries the messages drained by a poll
type LinkMessagesResponse struct {
	ClientID string        `json:"clientId"`
	Messages []LinkMessage `json:"messages"`
}

// LinkPublishMessage is one value published by a poll client
type LinkPublishMessage struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// LinkPublishResponse reports how many messages were accepted
type LinkPublishResponse struct {
	Published int `json:"published"`
}

// AdminStreamMessage is one admin notification received from the stream
type AdminStreamMessage struct {
	Sequence     int64                    `json:"sequence"`
	Timestamp    time.Time                `json:"timestamp"`
	Notification pubtopology.Notification `json:"notification"`
}
