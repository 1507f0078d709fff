package jsoncomm

import (
	pubtopology "github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

// translate renders a notification in the admin wire format. Topology
// diffs become a list of config or remove entries followed by one route
// entry per connection; published notifications become a single message.
func (c *Comm) translate(n pubtopology.Notification) any {
	switch n.Kind {
	case pubtopology.NotificationAdd, pubtopology.NotificationRemove:
		return c.translateDiff(n)
	case pubtopology.NotificationPublished:
		if n.Published == nil {
			return nil
		}
		return translatePublished(n.Published)
	}
	return nil
}

func (c *Comm) translateDiff(n pubtopology.Notification) []any {
	out := make([]any, 0, len(n.Clients)+len(n.Connections))

	for _, client := range n.Clients {
		if n.Kind == pubtopology.NotificationAdd {
			out = append(out, configFor(client))
			continue
		}
		out = append(out, RemoveMessage{
			Remove: []RemovedClient{{
				Name:          client.Name,
				RemoteAddress: client.Metadata.String("ip"),
			}},
			TargetType: TargetAdmin,
		})
	}

	for _, conn := range n.Connections {
		pub, ok := c.lookupClient(conn.From.LeafID, n.Clients)
		if !ok {
			continue
		}
		sub, ok := c.lookupClient(conn.To.LeafID, n.Clients)
		if !ok {
			continue
		}
		out = append(out, RouteMessage{Route: RouteUpdate{
			Type: string(n.Kind),
			Publisher: RouteEndpoint{
				ClientName:    pub.Name,
				Name:          conn.From.Endpoint,
				Type:          conn.Type,
				RemoteAddress: pub.Metadata.String("ip"),
			},
			Subscriber: RouteEndpoint{
				ClientName:    sub.Name,
				Name:          conn.To.Endpoint,
				Type:          conn.Type,
				RemoteAddress: sub.Metadata.String("ip"),
			},
		}})
	}
	return out
}

// lookupClient prefers the live registry and falls back to the clients
// carried by the notification, which covers clients just removed.
func (c *Comm) lookupClient(id string, clients []pubtopology.LeafSnapshot) (pubtopology.LeafSnapshot, bool) {
	if client, ok := c.manager.Client(id); ok {
		return client, true
	}
	for _, client := range clients {
		if client.ID == id {
			return client, true
		}
	}
	return pubtopology.LeafSnapshot{}, false
}

func configFor(client pubtopology.LeafSnapshot) ConfigMessage {
	publishers := client.Publishers
	if publishers == nil {
		publishers = []pubtopology.PublisherSnapshot{}
	}
	subscribers := client.Subscribers
	if subscribers == nil {
		subscribers = []pubtopology.EndpointSnapshot{}
	}
	return ConfigMessage{Config: ClientConfig{
		Name:          client.Name,
		Description:   client.Description,
		Publish:       PublisherList{Messages: publishers},
		Subscribe:     SubscriberList{Messages: subscribers},
		Options:       map[string]any{},
		RemoteAddress: client.Metadata.String("ip"),
	}}
}

func translatePublished(p *pubtopology.PublishedMessage) PublishedMessage {
	body := PublishedBody{
		ClientName:    p.Client.Name,
		Name:          p.Publisher.Name,
		Type:          p.Publisher.Type,
		RemoteAddress: p.Client.Metadata.String("ip"),
	}
	if p.HasMessage {
		body.Value = p.Message
	}
	return PublishedMessage{Message: body, TargetType: TargetAdmin}
}
