package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	pubtopology "github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

func newClientsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "List registered clients",
		Long:  "List every client registered with the broker, with its publishers and subscribers",
		RunE:  runClientsList,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show ID",
		Short: "Show one client",
		Args:  cobra.ExactArgs(1),
		RunE:  runClientsShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rm ID",
		Short: "Remove a client",
		Long:  "Remove a client and every connection it takes part in",
		Args:  cobra.ExactArgs(1),
		RunE:  runClientsRemove,
	})

	return cmd
}

func runClientsList(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	clients, err := client.ListClients(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(clients) == 0 {
		fmt.Fprintln(out, "No clients registered")
		return nil
	}

	fmt.Fprintf(out, "Found %d client(s):\n\n", len(clients))
	for i, c := range clients {
		fmt.Fprintf(out, "%d. ", i+1)
		printClient(out, c)
		if i < len(clients)-1 {
			fmt.Fprintln(out)
		}
	}
	return nil
}

func runClientsShow(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c, err := client.GetClient(ctx, args[0])
	if err != nil {
		return err
	}
	printClient(cmd.OutOrStdout(), *c)
	return nil
}

func runClientsRemove(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.RemoveClient(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Client %s removed\n", args[0])
	return nil
}

func printClient(out io.Writer, c pubtopology.LeafSnapshot) {
	fmt.Fprintf(out, "%s (%s)\n", c.Name, c.ID)
	if c.Description != "" {
		fmt.Fprintf(out, "   Description: %s\n", c.Description)
	}
	if len(c.Metadata) > 0 {
		fmt.Fprintf(out, "   Metadata: %s\n", formatMetadata(c.Metadata))
	}
	for _, p := range c.Publishers {
		fmt.Fprintf(out, "   Publishes: %s (%s)\n", p.Name, p.Type)
	}
	for _, s := range c.Subscribers {
		fmt.Fprintf(out, "   Subscribes: %s (%s)\n", s.Name, s.Type)
	}
}

func formatMetadata(md pubtopology.Metadata) string {
	strs := md.Strings()
	keys := make([]string, 0, len(strs))
	for k := range strs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strs[k])
	}
	return strings.Join(parts, " ")
}
