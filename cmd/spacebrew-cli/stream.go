package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/spacebrew-go/pkg/httpclient"
	pubtopology "github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

func newStreamCommand() *cobra.Command {
	var (
		noMsgs     bool
		bufferSize int
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Follow admin notifications over Server-Sent Events",
		Long: `Follow the admin notification stream of the HTTP API. The stream starts
with a snapshot of the topology, then reports every added or removed client,
route and connection and every published message. Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, noMsgs, bufferSize)
		},
	}

	cmd.Flags().BoolVar(&noMsgs, "no-msgs", false, "Leave published payloads out")
	cmd.Flags().IntVar(&bufferSize, "buffer-size", 100, "Notification buffer size")

	return cmd
}

func runStream(cmd *cobra.Command, noMsgs bool, bufferSize int) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Streaming admin notifications from %s (Ctrl+C to stop)\n", serverURL)

	streamClient, err := client.StreamAdmin(ctx, httpclient.StreamConfig{
		NoMessages: noMsgs,
		BufferSize: bufferSize,
	})
	if err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	defer streamClient.Close()

	count := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "\nStream stopped. Received %d notifications.\n", count)
			return nil
		case msg, ok := <-streamClient.Events():
			if !ok {
				fmt.Fprintf(out, "\nStream closed. Received %d notifications.\n", count)
				return nil
			}
			count++
			printNotification(out, msg.Sequence, msg.Notification)
		case err, ok := <-streamClient.Errors():
			if !ok {
				return nil
			}
			// errors are followed by a reconnect
			fmt.Fprintf(cmd.ErrOrStderr(), "Stream error: %v\n", err)
		}
	}
}

// printNotification writes one notification as a short human readable block
func printNotification(out io.Writer, seq int64, n pubtopology.Notification) {
	fmt.Fprintf(out, "#%d %s\n", seq, n.Kind)
	if n.Published != nil {
		p := n.Published
		fmt.Fprintf(out, "   %s.%s (%s)", p.Client.Name, p.Publisher.Name, p.Publisher.Type)
		if p.HasMessage {
			value, err := json.Marshal(p.Message)
			if err != nil {
				value = []byte(fmt.Sprint(p.Message))
			}
			fmt.Fprintf(out, ": %s", value)
		}
		fmt.Fprintln(out)
		return
	}
	for _, c := range n.Clients {
		fmt.Fprintf(out, "   client %s (%s)\n", c.Name, c.ID)
	}
	for _, r := range n.Routes {
		fmt.Fprintf(out, "   route %s: %s -> %s\n", r.ID, describeEndpoint(r.From), describeEndpoint(r.To))
	}
	for _, c := range n.Connections {
		fmt.Fprintf(out, "   connection %s.%s -> %s.%s\n", c.From.LeafID, c.From.Endpoint, c.To.LeafID, c.To.Endpoint)
	}
}
