package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/httpclient"
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
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "routemesh-cli",
		Short: "routemesh HTTP API command line interface",
		Long: `routemesh-cli is a command line interface for the routemesh HTTP API.
It reads declared and resolved routes, declares and withdraws routes,
manages hosts and cluster membership, and watches best-route changes in
real time.`,
		PersistentPreRunE: initializeClient,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8081", "routemesh server URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "Client ID for authentication")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("ROUTEMESH_TOKEN"), "JWT token (defaults to $ROUTEMESH_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&noAuth, "no-auth", false, "Skip authentication (for development with no_auth servers)")

	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newTablesCommand())
	rootCmd.AddCommand(newRoutesCommand())
	rootCmd.AddCommand(newResolvedCommand())
	rootCmd.AddCommand(newPrefixCommand())
	rootCmd.AddCommand(newLookupCommand())
	rootCmd.AddCommand(newAddCommand())
	rootCmd.AddCommand(newWithdrawCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHostsCommand())
	rootCmd.AddCommand(newClusterCommand())

	return rootCmd
}

// initializeClient sets up the HTTP client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	// A token already identifies the client
	if !noAuth && clientID == "" && token == "" {
		return fmt.Errorf("client-id is required (unless using --token or --no-auth)")
	}

	effectiveClientID := clientID
	if effectiveClientID == "" {
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

	if token != "" {
		client.SetToken(token)
	} else if noAuth {
		// The server ignores the token in no-auth mode
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
		return fmt.Errorf("not authenticated - run 'routemesh-cli auth' first or provide --token")
	}
	return nil
}
