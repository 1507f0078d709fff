package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/grpcapi"
)

func newWatchCommand() *cobra.Command {
	var (
		target string
		noMsgs bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow admin notifications over the gRPC control API",
		Long: `Follow the admin notifications of the gRPC control API. Like stream, it
starts with a topology snapshot. The control API has no authentication and is
meant for trusted networks.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, target, noMsgs)
		},
	}

	cmd.Flags().StringVar(&target, "grpc", "localhost:9093", "gRPC control API address")
	cmd.Flags().BoolVar(&noMsgs, "no-msgs", false, "Leave published payloads out")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, target string, noMsgs bool) error {
	control, err := grpcapi.Dial(target)
	if err != nil {
		return err
	}
	defer control.Close()

	stream, err := control.Watch(ctx, noMsgs)
	if err != nil {
		return fmt.Errorf("failed to watch: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", target)

	var seq int64
	for {
		n, err := stream.Recv()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), status.Code(err) == codes.Canceled, ctx.Err() != nil:
			fmt.Fprintf(out, "\nWatch stopped. Received %d notifications.\n", seq)
			return nil
		default:
			return fmt.Errorf("watch failed: %w", err)
		}
		seq++
		printNotification(out, seq, n)
	}
}
