package httpapi

import (
	"time"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/pollbuffer"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/topology"
	pubtopology "github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
}

// AuthResponse represents a login response
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

// AddRouteResponse reports whether a route was added. Route is set only
// when it was.
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
	topology.Stats
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

// LinkRegisterRequest registers an HTTP poll client. It mirrors the
// WebSocket config message; subscribers may ask for a bufferSize.
type LinkRegisterRequest struct {
	Config LinkClientConfig `json:"config"`
}

// LinkClientConfig describes a poll client
type LinkClientConfig struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Publish     LinkPublishers  `json:"publish"`
	Subscribe   LinkSubscribers `json:"subscribe"`
	// Brief selects the compact text format for polls
	Brief bool `json:"brief"`
}

// LinkPublishers wraps the publisher list
type LinkPublishers struct {
	Messages []map[string]any `json:"messages"`
}

// LinkSubscribers wraps the subscriber list
type LinkSubscribers struct {
	Messages []LinkSubscriber `json:"messages"`
}

// LinkSubscriber is a subscriber with its buffer size. BufferSize accepts
// numbers and numeric strings; anything else means the default.
type LinkSubscriber struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	BufferSize any    `json:"bufferSize,omitempty"`
}

// LinkRegisterResponse identifies a registered poll client
type LinkRegisterResponse struct {
	ClientID string `json:"clientId"`
	LeafID   string `json:"leafId"`
	Name     string `json:"name"`
}

// LinkMessagesResponse carries the messages drained by a poll
type LinkMessagesResponse struct {
	ClientID string               `json:"clientId"`
	Messages []pollbuffer.Message `json:"messages"`
}

// LinkPublishRequest publishes values from a poll client's publishers
type LinkPublishRequest struct {
	Messages []LinkPublishMessage `json:"messages"`
}

// LinkPublishMessage is one published value
type LinkPublishMessage struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// LinkPublishResponse reports how many messages were accepted
type LinkPublishResponse struct {
	Published int `json:"published"`
}

// AdminStreamMessage is one server-sent admin notification
type AdminStreamMessage struct {
	Sequence     int64                    `json:"sequence"`
	Timestamp    time.Time                `json:"timestamp"`
	Notification pubtopology.Notification `json:"notification"`
}
