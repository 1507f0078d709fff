package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	pubtopology "github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

// routeFlags builds a route definition from the command line
type routeFlags struct {
	file         string
	style        string
	msgType      string
	from         string
	fromEndpoint string
	fromIP       string
	to           string
	toEndpoint   string
	toIP         string
}

func newRoutesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Manage routes",
		Long:  "List, add and remove the routes that connect publishers to subscribers",
		RunE:  runRoutesList,
	}

	cmd.AddCommand(newRoutesAddCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "rm ID",
		Short: "Remove a route",
		Args:  cobra.ExactArgs(1),
		RunE:  runRoutesRemove,
	})

	return cmd
}

func newRoutesAddCommand() *cobra.Command {
	var rf routeFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a route",
		Long: `Add a route from a definition file (YAML or JSON) or from flags.

String routes name clients by name and ip; uuid routes name them by id:

  spacebrew-cli routes add --type string --from sensor --from-endpoint reading \
      --from-ip 10.0.0.5 --to display --to-endpoint show --to-ip 10.0.0.6
  spacebrew-cli routes add --style uuid --type string --from ID --from-endpoint reading \
      --to ID --to-endpoint show
  spacebrew-cli routes add --file route.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := rf.definition()
			if err != nil {
				return err
			}
			return runRoutesAdd(cmd, def)
		},
	}

	cmd.Flags().StringVar(&rf.file, "file", "", "Route definition file; other flags are ignored")
	cmd.Flags().StringVar(&rf.style, "style", pubtopology.StyleString, "Route style (string, uuid, regexp)")
	cmd.Flags().StringVar(&rf.msgType, "type", "", "Message type")
	cmd.Flags().StringVar(&rf.from, "from", "", "Publishing client name, or id for uuid routes")
	cmd.Flags().StringVar(&rf.fromEndpoint, "from-endpoint", "", "Publisher name")
	cmd.Flags().StringVar(&rf.fromIP, "from-ip", "", "Publishing client ip")
	cmd.Flags().StringVar(&rf.to, "to", "", "Subscribing client name, or id for uuid routes")
	cmd.Flags().StringVar(&rf.toEndpoint, "to-endpoint", "", "Subscriber name")
	cmd.Flags().StringVar(&rf.toIP, "to-ip", "", "Subscribing client ip")

	return cmd
}

func (rf routeFlags) definition() (pubtopology.RouteDefinition, error) {
	var def pubtopology.RouteDefinition
	if rf.file != "" {
		data, err := os.ReadFile(rf.file)
		if err != nil {
			return def, fmt.Errorf("read route file: %w", err)
		}
		// YAML is a superset of JSON, so one decoder serves both
		if err := yaml.Unmarshal(data, &def); err != nil {
			return def, fmt.Errorf("parse route file: %w", err)
		}
		return def, nil
	}

	def = pubtopology.RouteDefinition{
		Style: rf.style,
		Type:  rf.msgType,
		From:  rf.endpoint(rf.from, rf.fromIP, rf.fromEndpoint),
		To:    rf.endpoint(rf.to, rf.toIP, rf.toEndpoint),
	}
	return def, nil
}

func (rf routeFlags) endpoint(client, ip, endpoint string) pubtopology.EndpointDefinition {
	if rf.style == pubtopology.StyleUUID {
		return pubtopology.EndpointDefinition{UUID: client, Endpoint: endpoint}
	}
	ep := pubtopology.EndpointDefinition{Name: client, Endpoint: endpoint}
	if ip != "" {
		ep.Metadata = map[string]any{"ip": ip}
	}
	return ep
}

func runRoutesList(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	routes, err := client.ListRoutes(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(routes) == 0 {
		fmt.Fprintln(out, "No routes registered")
		return nil
	}

	fmt.Fprintf(out, "Found %d route(s):\n\n", len(routes))
	for i, r := range routes {
		fmt.Fprintf(out, "%d. %s [%s, %s]\n", i+1, r.ID, r.Style, r.Type)
		fmt.Fprintf(out, "   From: %s\n", describeEndpoint(r.From))
		fmt.Fprintf(out, "   To:   %s\n", describeEndpoint(r.To))
	}
	return nil
}

func runRoutesAdd(cmd *cobra.Command, def pubtopology.RouteDefinition) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.AddRoute(ctx, def)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !resp.Added {
		fmt.Fprintln(out, "An equal route already exists")
		return nil
	}
	fmt.Fprintf(out, "Route %s added\n", resp.Route.ID)
	return nil
}

func runRoutesRemove(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.RemoveRoute(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Route %s removed\n", args[0])
	return nil
}

func describeEndpoint(ep pubtopology.EndpointDefinition) string {
	if ep.UUID != "" {
		return fmt.Sprintf("%s.%s", ep.UUID, ep.Endpoint)
	}
	if ep.Metadata != nil {
		return fmt.Sprintf("%s.%s %v", ep.Name, ep.Endpoint, ep.Metadata)
	}
	return fmt.Sprintf("%s.%s", ep.Name, ep.Endpoint)
}
