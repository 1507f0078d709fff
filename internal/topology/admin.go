package topology

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

// AdminOptions controls what an admin receives.
type AdminOptions struct {
	// NoMsgs suppresses message payloads in published notifications
	NoMsgs bool
}

// Admin is a registered observer of topology changes and published messages.
type Admin struct {
	id      string
	sink    topology.AdminSink
	options AdminOptions
}

// NewAdmin builds an admin from its sink and a loosely typed options map.
func NewAdmin(sink topology.AdminSink, options map[string]any) (*Admin, error) {
	if sink == nil {
		return nil, ErrNilAdminSink
	}
	return &Admin{
		id:      uuid.NewString(),
		sink:    sink,
		options: CleanAdminOptions(options),
	}, nil
}

// CleanAdminOptions coerces recognized options. no_msgs is enabled only
// when its value renders as "true"; anything else falls back to false.
func CleanAdminOptions(raw map[string]any) AdminOptions {
	var opts AdminOptions
	if v, ok := raw["no_msgs"]; ok && v != nil {
		opts.NoMsgs = fmt.Sprint(v) == "true"
	}
	return opts
}

// ID returns the admin's unique identifier.
func (a *Admin) ID() string { return a.id }

// Options returns the admin's options.
func (a *Admin) Options() AdminOptions { return a.options }

func (a *Admin) matchAdmin(candidate *Admin) bool {
	return a != nil && (a == candidate || a.id == candidate.id)
}
