package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/spacebrew-go/pkg/httpclient"
)

// tokenEnv supplies --token when the flag is not given
const tokenEnv = "SPACEBREW_TOKEN"

var (
	// Global flags
	serverURL string
	clientID  string
	token     string
	timeout   time.Duration
	noAuth    bool

	// Global client instance
	client *httpclient.Client
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "spacebrew-cli",
		Short: "Spacebrew broker command line interface",
		Long: `spacebrew-cli manages a spacebrew broker over its HTTP API and gRPC
control API. It lists and removes clients, adds and removes routes, and
follows the admin notification stream.`,
		PersistentPreRunE: initializeClient,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9092", "Broker HTTP API URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "admin", "Client ID to log in with")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv(tokenEnv), "JWT token (defaults to $"+tokenEnv+")")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&noAuth, "no-auth", false, "Skip authentication (for brokers running with --no-auth)")

	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newClientsCommand())
	rootCmd.AddCommand(newRoutesCommand())
	rootCmd.AddCommand(newConnectionsCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newStreamCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}

// initializeClient sets up the HTTP client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	if clientID == "" {
		return fmt.Errorf("client-id is required")
	}

	var err error
	client, err = httpclient.NewClient(httpclient.Config{
		ServerURL: serverURL,
		ClientID:  clientID,
		Timeout:   timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if token != "" {
		client.SetToken(token)
	} else if noAuth {
		// any bearer passes a broker running without auth
		client.SetToken("no-auth-mode")
	}
	return nil
}

// requireAuthentication checks if the client is authenticated
func requireAuthentication() error {
	if client == nil {
		return fmt.Errorf("client not initialized")
	}
	if noAuth {
		return nil
	}
	if !client.IsAuthenticated() {
		return fmt.Errorf("not authenticated - run 'spacebrew-cli auth' first or provide --token")
	}
	return nil
}
