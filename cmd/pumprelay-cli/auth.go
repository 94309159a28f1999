package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with the relay",
		Long: `Authenticate with the relay using your client ID.
This prints a JWT token that can be used for subsequent requests.`,
		RunE: runAuth,
	}
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	token := client.GetToken()
	fmt.Fprintf(out, "Authenticated as %s\n", clientID)
	fmt.Fprintf(out, "Token: %s\n", token)
	fmt.Fprintf(out, "\nSave it for later commands:\n")
	fmt.Fprintf(out, "  export PUMPRELAY_TOKEN=\"%s\"\n", token)
	fmt.Fprintf(out, "  pumprelay-cli send current-status:36:37\n")
	return nil
}
