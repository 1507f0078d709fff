package topology

import "errors"

var (
	// ErrNilSendFunc is returned when a client is constructed without a send callback
	ErrNilSendFunc = errors.New("send function cannot be nil")
	// ErrNilAdminSink is returned when an admin is constructed without a sink
	ErrNilAdminSink = errors.New("admin sink cannot be nil")
	// ErrInvalidStyle is returned for an unknown or missing route style
	ErrInvalidStyle = errors.New("route style must be one of string, uuid, regexp")
	// ErrInvalidRouteField is returned when a route field has the wrong shape for its style
	ErrInvalidRouteField = errors.New("invalid route field")
	// ErrInvalidMetadataPattern is returned for malformed regexp metadata patterns
	ErrInvalidMetadataPattern = errors.New("metadata must be a list of {key, value} patterns")
)
