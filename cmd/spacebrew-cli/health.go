package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check broker health",
		RunE:  runHealth,
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	health, err := client.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	out := cmd.OutOrStdout()
	if health.Healthy {
		fmt.Fprintf(out, "Broker is healthy\n")
	} else {
		fmt.Fprintf(out, "Broker is not healthy\n")
	}
	fmt.Fprintf(out, "Clients: %d\n", health.Clients)
	fmt.Fprintf(out, "Routes: %d\n", health.Routes)
	fmt.Fprintf(out, "Connections: %d\n", health.Connections)
	fmt.Fprintf(out, "Admins: %d\n", health.Admins)
	fmt.Fprintf(out, "Link Clients: %d\n", health.LinkClients)
	if health.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", health.Message)
	}
	return nil
}
