// Package config holds the broker configuration and loads it from YAML or
// JSON files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/topology"
	pubtopology "github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

// Defaults
const (
	DefaultWebSocketListen   = ":9000"
	DefaultWebSocketPath     = "/"
	DefaultHTTPListen        = ":9092"
	DefaultGRPCListen        = ":9093"
	DefaultLogLevel          = "info"
	DefaultLinkBufferSize    = 1
	DefaultLinkClientTimeout = 300
)

var (
	// ErrNoListener is returned when every transport is disabled
	ErrNoListener = errors.New("at least one of websocket.listen, http.listen or grpc.listen must be set")
	// ErrInvalidLogLevel is returned for an unknown log level
	ErrInvalidLogLevel = errors.New("log level must be one of debug, info, warn, error")
	// ErrInvalidBufferSize is returned when the link buffer size is below one
	ErrInvalidBufferSize = errors.New("link buffer size must be at least 1")
	// ErrInvalidRoute is returned when a configured route cannot be parsed
	ErrInvalidRoute = errors.New("invalid route")
)

// WebSocketConfig configures the WebSocket transport.
type WebSocketConfig struct {
	// Listen is the listen address; empty disables the transport
	Listen string `json:"listen" yaml:"listen"`
	// Path is the upgrade path
	Path string `json:"path" yaml:"path"`
}

// HTTPConfig configures the HTTP management API and the HTTP poll link.
type HTTPConfig struct {
	Listen    string `json:"listen" yaml:"listen"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	// NoAuth disables JWT checks on admin endpoints
	NoAuth bool `json:"no_auth" yaml:"no_auth"`
}

// GRPCConfig configures the gRPC control API.
type GRPCConfig struct {
	Listen string `json:"listen" yaml:"listen"`
	// ReadOnly rejects control calls that change the topology
	ReadOnly bool `json:"read_only" yaml:"read_only"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	JSON  bool   `json:"json" yaml:"json"`
}

// LinkConfig configures HTTP poll link clients.
type LinkConfig struct {
	// DefaultBufferSize is the per-subscriber buffer used when a client
	// does not ask for one
	DefaultBufferSize int `json:"default_buffer_size" yaml:"default_buffer_size"`
	// ClientTimeoutSeconds unregisters link clients that stop polling;
	// zero keeps them forever
	ClientTimeoutSeconds int `json:"client_timeout_seconds" yaml:"client_timeout_seconds"`
}

// Config is the complete broker configuration.
type Config struct {
	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	GRPC      GRPCConfig      `json:"grpc" yaml:"grpc"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Link      LinkConfig      `json:"link" yaml:"link"`

	// Routes are installed when the broker starts
	Routes []pubtopology.RouteDefinition `json:"routes" yaml:"routes"`
}

// NewConfig creates a configuration with safe defaults
func NewConfig() *Config {
	return &Config{
		WebSocket: WebSocketConfig{Listen: DefaultWebSocketListen, Path: DefaultWebSocketPath},
		HTTP:      HTTPConfig{Listen: DefaultHTTPListen},
		GRPC:      GRPCConfig{Listen: DefaultGRPCListen},
		Log:       LogConfig{Level: DefaultLogLevel},
		Link:      LinkConfig{DefaultBufferSize: DefaultLinkBufferSize, ClientTimeoutSeconds: DefaultLinkClientTimeout},
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.WebSocket.Listen == "" && c.HTTP.Listen == "" && c.GRPC.Listen == "" {
		return ErrNoListener
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	if c.Link.DefaultBufferSize < 1 {
		return ErrInvalidBufferSize
	}
	if _, err := c.ParseRoutes(); err != nil {
		return err
	}
	return nil
}

// ParseRoutes builds the configured routes.
func (c *Config) ParseRoutes() ([]*topology.Route, error) {
	routes := make([]*topology.Route, 0, len(c.Routes))
	for i, def := range c.Routes {
		r, err := topology.ParseRoute(def)
		if err != nil {
			return nil, fmt.Errorf("%w %d: %w", ErrInvalidRoute, i, err)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

// WithWebSocketListen sets the WebSocket listen address
func (c *Config) WithWebSocketListen(addr string) *Config {
	c.WebSocket.Listen = addr
	return c
}

// WithHTTPListen sets the HTTP listen address
func (c *Config) WithHTTPListen(addr string) *Config {
	c.HTTP.Listen = addr
	return c
}

// WithGRPCListen sets the gRPC listen address
func (c *Config) WithGRPCListen(addr string) *Config {
	c.GRPC.Listen = addr
	return c
}

// WithSecretKey sets the JWT signing key
func (c *Config) WithSecretKey(key string) *Config {
	c.HTTP.SecretKey = key
	return c
}

// WithNoAuth toggles JWT checks on admin endpoints
func (c *Config) WithNoAuth(noAuth bool) *Config {
	c.HTTP.NoAuth = noAuth
	return c
}

// WithLogLevel sets the log level
func (c *Config) WithLogLevel(level string) *Config {
	c.Log.Level = level
	return c
}

// WithLogJSON toggles JSON log output
func (c *Config) WithLogJSON(enabled bool) *Config {
	c.Log.JSON = enabled
	return c
}

// WithRoutes replaces the startup routes
func (c *Config) WithRoutes(routes ...pubtopology.RouteDefinition) *Config {
	c.Routes = routes
	return c
}

// FromFile loads configuration from a file, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json. Keys absent from the file keep
// their defaults.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return nil, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data on top of the defaults.
func FromYAML(data []byte) (*Config, error) {
	c := NewConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return c, nil
}

// FromJSON parses JSON data on top of the defaults.
func FromJSON(data []byte) (*Config, error) {
	c := NewConfig()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return c, nil
}
