package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/httpclient"
)

type routeFlags struct {
	source     string
	sourceNode string
}

func (f *routeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.source, "source", "STATIC", "Route source (STATIC, BGP, ...)")
	cmd.Flags().StringVar(&f.sourceNode, "source-node", "", "Originating node; the server's node when empty")
}

func newAddCommand() *cobra.Command {
	var flags routeFlags

	cmd := &cobra.Command{
		Use:   "add PREFIX=NEXTHOP...",
		Short: "Declare or replace routes (admin)",
		Long: `Declare routes, each given as PREFIX=NEXTHOP, for example
  routemesh-cli add 10.0.0.0/24=192.168.1.1 2001:db8::/64=fe80::1
Resolution happens asynchronously; use 'watch' or 'prefix' to follow it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, args, flags, "Declared", client.UpdateRoutes)
		},
	}
	flags.register(cmd)
	return cmd
}

func newWithdrawCommand() *cobra.Command {
	var flags routeFlags

	cmd := &cobra.Command{
		Use:   "withdraw PREFIX=NEXTHOP...",
		Short: "Withdraw routes (admin)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, args, flags, "Withdrew", client.WithdrawRoutes)
		},
	}
	flags.register(cmd)
	return cmd
}

func runWrite(cmd *cobra.Command, args []string, flags routeFlags, verb string,
	write func(context.Context, []httpclient.Route) (int, error)) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	routes, err := parseRoutes(args, flags)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := write(ctx, routes)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ %s %d route(s)\n", verb, n)
	return nil
}

// parseRoutes turns PREFIX=NEXTHOP arguments into wire routes. Address
// syntax is checked by the server.
func parseRoutes(args []string, flags routeFlags) ([]httpclient.Route, error) {
	routes := make([]httpclient.Route, 0, len(args))
	for _, arg := range args {
		prefix, nextHop, ok := strings.Cut(arg, "=")
		if !ok || prefix == "" || nextHop == "" {
			return nil, fmt.Errorf("invalid route %q: expected PREFIX=NEXTHOP", arg)
		}
		routes = append(routes, httpclient.Route{
			Source:     strings.ToUpper(flags.source),
			Prefix:     prefix,
			NextHop:    nextHop,
			SourceNode: flags.sourceNode,
		})
	}
	return routes, nil
}
