package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/httpclient"
)

func newWatchCommand() *cobra.Command {
	var (
		table      string
		bufferSize int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream best-route changes in real time",
		Long: `Stream best-route changes using Server-Sent Events.
The stream starts with the current best route of every prefix, then follows
every change in order. Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.OutOrStdout(), table, bufferSize)
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "Route table to watch (all tables when empty)")
	cmd.Flags().IntVar(&bufferSize, "buffer-size", 100, "Event buffer size")
	return cmd
}

func runWatch(out io.Writer, table string, bufferSize int) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(out, "🌊 Watching routes on %s", serverURL)
	if table != "" {
		fmt.Fprintf(out, " (table: %s)", table)
	}
	fmt.Fprintln(out, "...")

	stream, err := client.Stream(ctx, httpclient.StreamConfig{Table: table, BufferSize: bufferSize})
	if err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	defer stream.Close()

	count := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "\n✅ Watch stopped. Received %d events.\n", count)
			return nil

		case event, ok := <-stream.Events():
			if !ok {
				fmt.Fprintf(out, "\n🔌 Stream closed. Received %d events.\n", count)
				return nil
			}
			count++
			printEvent(out, event)

		case err, ok := <-stream.Errors():
			if ok {
				// Reconnects replay the current state, so errors are not fatal
				fmt.Fprintf(out, "❌ Stream error: %v\n", err)
			}
		}
	}
}

func printEvent(out io.Writer, event httpclient.RouteEventMessage) {
	r := event.Route
	switch event.Type {
	case "ROUTE_REMOVED":
		fmt.Fprintf(out, "#%d %s - %s\n", event.Sequence, event.Timestamp.Format("15:04:05.000"), r.Prefix)
	default:
		fmt.Fprintf(out, "#%d %s + %s via %s (%s, %s)\n", event.Sequence, event.Timestamp.Format("15:04:05.000"),
			r.Prefix, r.NextHop, r.Source, location(r))
	}
	if len(event.Alternatives) > 1 {
		hops := make([]string, 0, len(event.Alternatives))
		for _, alt := range event.Alternatives {
			hops = append(hops, alt.NextHop)
		}
		fmt.Fprintf(out, "    alternatives: %s\n", strings.Join(hops, ", "))
	}
}
