// Package topology provides the wire-level types shared by the Spacebrew
// routing broker and the programs that talk to it.
//
// This package defines the data exchanged across the broker boundary:
//   - Metadata: flat string/number maps identifying a client
//   - LeafSnapshot, RouteSnapshot, ConnectionSnapshot: read-only views of the live graph
//   - RouteDefinition: the declarative form of a routing rule (string, uuid or regexp style)
//   - Notification: the add/remove/published diffs delivered to admins
//   - AdminSink and SendFunc: callbacks the broker invokes for admins and subscribers
//
// The broker itself (the topology manager that owns clients, routes and
// connections) lives in internal/topology; transports and clients only need
// the types declared here.
//
// Example usage:
//
//	// Watch every topology change
//	sink := topology.AdminSinkFunc(func(n topology.Notification) error {
//		log.Printf("%s: %d clients, %d routes, %d connections",
//			n.Kind, len(n.Clients), len(n.Routes), len(n.Connections))
//		return nil
//	})
//
//	// Describe a route that forwards client1/pub1 to client2/sub1
//	def := topology.RouteDefinition{
//		Style: topology.StyleString,
//		Type:  "string",
//		From:  topology.EndpointDefinition{Name: "client1", Endpoint: "pub1"},
//		To:    topology.EndpointDefinition{Name: "client2", Endpoint: "sub1"},
//	}
//
// Route styles:
//   - "string" matches client name, metadata and endpoint names exactly
//   - "uuid" matches client ids exactly
//   - "regexp" matches with regular expressions; later patterns in a route may
//     backreference groups captured by earlier ones (from name, type, publisher,
//     to name, subscriber, in that order)
package topology
