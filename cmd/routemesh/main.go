package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/routemesh-go/internal/config"
	"github.com/rmacdonaldsmith/routemesh-go/internal/daemon"
	"github.com/rmacdonaldsmith/routemesh-go/internal/httpapi"
)

const (
	appName    = "routemesh"
	appVersion = "0.1.0"

	stopTimeout = 30 * time.Second
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Route resolution node",
		Long: `routemesh resolves declared unicast routes against host discovery,
keeps the best route of every prefix and streams best-route changes to
subscribers. Routes of departed cluster members are reaped automatically.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newServeCommand() *cobra.Command {
	var (
		configPath string
		noAuth     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a routemesh node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if noAuth {
				cfg.HTTP.NoAuth = true
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to the TOML configuration file")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "Disable HTTP authentication (development only)")
	return cmd
}

// serve runs the node until a signal arrives, ctx ends or a server fails.
func serve(ctx context.Context, cfg config.Config) error {
	app := daemon.New(cfg)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start %s: %w", appName, err)
	}

	var exitCode int
	select {
	case sig := <-app.Wait():
		exitCode = sig.ExitCode
	case <-ctx.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop %s cleanly: %w", appName, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%s exited with code %d", appName, exitCode)
	}
	return nil
}

func newTokenCommand() *cobra.Command {
	var (
		configPath string
		clientID   string
		admin      bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token with the node's secret",
		Long: `Mint an API token signed with http.secret_key of the configuration.
Only tokens minted here can carry admin rights, which route writes require.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.HTTP.SecretKey == "" {
				return config.ErrMissingSecret
			}

			token, expiresAt, err := httpapi.NewJWTAuth(cfg.HTTP.SecretKey).GenerateToken(clientID, admin)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to the TOML configuration file")
	cmd.Flags().StringVar(&clientID, "client-id", "", "Client ID the token identifies (required)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant route write access")
	if err := cmd.MarkFlagRequired("client-id"); err != nil {
		panic(fmt.Sprintf("Failed to mark client-id as required: %v", err))
	}
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", appName, appVersion)
		},
	}
}
