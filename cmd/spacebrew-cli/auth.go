package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with the broker",
		Long: `Authenticate with the broker using your client ID. The "admin" client ID
receives an admin token, which the management commands need.`,
		RunE: runAuth,
	}
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Authenticating with server %s as client %s...\n", serverURL, clientID)

	if err := client.Authenticate(ctx); err != nil {
		return err
	}

	tok := client.GetToken()
	fmt.Fprintf(out, "Authentication successful\n")
	fmt.Fprintf(out, "Token: %s\n", tok)
	fmt.Fprintf(out, "\nSave the token for later commands:\n")
	fmt.Fprintf(out, "  export %s=%q\n", tokenEnv, tok)
	return nil
}
