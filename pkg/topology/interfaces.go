package topology

// NotificationKind identifies the kind of diff delivered to an admin.
type NotificationKind string

const (
	// NotificationAdd announces clients, routes and connections that appeared
	NotificationAdd NotificationKind = "add"

	// NotificationRemove announces clients, routes and connections that disappeared
	NotificationRemove NotificationKind = "remove"

	// NotificationPublished announces a message published by a client
	NotificationPublished NotificationKind = "published"
)

// PublishedMessage describes a message that a client published.
// HasMessage is false when the receiving admin asked for payloads to be
// suppressed; Message is nil in that case.
type PublishedMessage struct {
	Client     LeafSnapshot     `json:"client"`
	Publisher  EndpointSnapshot `json:"publisher"`
	Message    any              `json:"message,omitempty"`
	HasMessage bool             `json:"hasMessage"`
}

// Notification is a topology diff or a publish event delivered to admins.
type Notification struct {
	Kind        NotificationKind     `json:"kind"`
	Clients     []LeafSnapshot       `json:"clients"`
	Routes      []RouteSnapshot      `json:"routes"`
	Connections []ConnectionSnapshot `json:"connections"`
	Published   *PublishedMessage    `json:"published,omitempty"`
}

// AdminSink receives notifications for a registered admin.
// Implementations must not block for long: they are called synchronously
// while the triggering operation completes.
type AdminSink interface {
	Notify(n Notification) error
}

// AdminSinkFunc adapts an ordinary function to the AdminSink interface.
type AdminSinkFunc func(n Notification) error

// Notify calls f(n).
func (f AdminSinkFunc) Notify(n Notification) error {
	return f(n)
}

// SendFunc delivers a routed message to one subscriber endpoint of a client.
// endpoint and msgType are the subscriber's own name and type.
type SendFunc func(endpoint, msgType string, payload any) error
