package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Long:  "Check the health status of the routemesh server",
		RunE:  runHealth,
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checking health of %s...\n", serverURL)

	// An unhealthy node still reports its state
	health, err := client.GetHealth(ctx)
	if health == nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Healthy {
		fmt.Fprintf(out, "✅ Server is healthy!\n")
	} else {
		fmt.Fprintf(out, "❌ Server is not healthy!\n")
	}
	fmt.Fprintf(out, "Node: %s\n", health.NodeID)
	fmt.Fprintf(out, "Started: %t\n", health.Started)
	fmt.Fprintf(out, "Listeners: %d\n", health.Listeners)
	fmt.Fprintf(out, "Pending Resolutions: %d\n", health.PendingResolutions)
	if health.ReaperQueue != "" {
		fmt.Fprintf(out, "Reaper Queue: %s\n", health.ReaperQueue)
	}

	tables := make([]string, 0, len(health.Prefixes))
	for table := range health.Prefixes {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		fmt.Fprintf(out, "Prefixes (%s): %d\n", table, health.Prefixes[table])
	}
	if health.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", health.Message)
	}

	return err
}
