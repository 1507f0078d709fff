package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newConnectionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connections",
		Short: "List live connections",
		Long:  "List every publisher to subscriber connection and the routes that justify it",
		RunE:  runConnections,
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show registry sizes",
		RunE:  runStats,
	}
}

func runConnections(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conns, err := client.ListConnections(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(conns) == 0 {
		fmt.Fprintln(out, "No connections")
		return nil
	}

	fmt.Fprintf(out, "Found %d connection(s):\n\n", len(conns))
	for i, c := range conns {
		fmt.Fprintf(out, "%d. %s.%s -> %s.%s (%s)\n", i+1,
			c.From.LeafID, c.From.Endpoint, c.To.LeafID, c.To.Endpoint, c.Type)
		fmt.Fprintf(out, "   Routes: %s\n", strings.Join(c.RouteIDs, ", "))
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	stats, err := client.GetStats(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Clients: %d\n", stats.Clients)
	fmt.Fprintf(out, "Routes: %d\n", stats.Routes)
	fmt.Fprintf(out, "Connections: %d\n", stats.Connections)
	fmt.Fprintf(out, "Admins: %d\n", stats.Admins)
	fmt.Fprintf(out, "Link Clients: %d\n", stats.LinkClients)
	return nil
}
