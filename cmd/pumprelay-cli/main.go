package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rmacdonaldsmith/pumprelay-go/pkg/httpclient"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	serverURL string
	clientID  string
	token     string
	timeout   time.Duration
	noAuth    bool

	// Global client instance
	client *httpclient.Client

	// out receives command output
	out io.Writer = os.Stdout
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pumprelay-cli",
		Short: "pumprelay HTTP API command line interface",
		Long: `pumprelay-cli talks to a pumprelay as a host node. It sends pump commands,
queries the relay and streams what the pump sends back.

Commands are written as channel:opcode:response-opcode[:hex-payload], for example
current-status:36:37 or control:-92:-91:0a0b.`,
		PersistentPreRunE: initializeClient,
		SilenceUsage:      true,
	}

	// Add global flags
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8081", "pumprelay server URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "Client ID for authentication")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("PUMPRELAY_TOKEN"), "JWT token (if already authenticated)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&noAuth, "no-auth", false, "Skip authentication (for development with --no-auth servers)")

	// Add subcommands
	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newSendCommand())
	rootCmd.AddCommand(newBulkCommand("send-bulk", "Send several commands in order", sendBulk))
	rootCmd.AddCommand(newBulkCommand("bust-cache", "Send commands, dropping their cached responses first", bustCache))
	rootCmd.AddCommand(newBulkCommand("cached", "Read responses from the relay cache, asking the pump on a miss", cachedRead))
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newActivateCommand())
	rootCmd.AddCommand(newStreamCommand())

	return rootCmd
}

// initializeClient sets up the HTTP client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	// Skip client initialization for help commands
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	// In no-auth mode, client-id is not required
	if !noAuth && clientID == "" {
		return fmt.Errorf("client-id is required (unless using --no-auth)")
	}

	effectiveClientID := clientID
	if noAuth && effectiveClientID == "" {
		effectiveClientID = "dev-client"
	}

	var err error
	client, err = httpclient.NewClient(httpclient.Config{
		ServerURL: serverURL,
		ClientID:  effectiveClientID,
		Timeout:   timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	// Set token if provided, or set dummy token in no-auth mode
	if token != "" {
		client.SetToken(token)
	} else if noAuth {
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
		return fmt.Errorf("not authenticated - run 'pumprelay-cli auth' first or provide --token")
	}
	return nil
}
