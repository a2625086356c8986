package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/httpclient"
)

func newTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List route tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			tables, err := client.Tables(ctx)
			if err != nil {
				return err
			}
			for _, table := range tables {
				fmt.Fprintln(cmd.OutOrStdout(), table)
			}
			return nil
		},
	}
}

func newRoutesCommand() *cobra.Command {
	var table string

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List declared routes with their resolution state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			infos, err := client.Routes(ctx, table)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BEST\tPREFIX\tNEXT HOP\tSOURCE\tNODE\tLOCATION")
			for _, info := range infos {
				for _, r := range info.AllRoutes {
					marker := ""
					if info.Best != nil && *info.Best == r {
						marker = "*"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						marker, r.Prefix, r.NextHop, r.Source, r.SourceNode, location(r))
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "Route table (ipv4 or ipv6); all tables when empty")
	return cmd
}

func newResolvedCommand() *cobra.Command {
	var table string

	cmd := &cobra.Command{
		Use:   "resolved",
		Short: "List the best resolved route of every prefix",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			routes, err := client.ResolvedRoutes(ctx, table)
			if err != nil {
				return err
			}
			return printRoutes(cmd.OutOrStdout(), routes)
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "Route table (ipv4 or ipv6); all tables when empty")
	return cmd
}

func newPrefixCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prefix PREFIX",
		Short: "Show the best route and alternatives of a prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			resp, err := client.Prefix(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Best:")
			if err := printRoutes(out, []httpclient.ResolvedRoute{resp.Best}); err != nil {
				return err
			}
			fmt.Fprintln(out, "\nAlternatives:")
			return printRoutes(out, resp.Alternatives)
		},
	}
}

func newLookupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup IP",
		Short: "Find the best route of the longest prefix containing an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			route, err := client.Lookup(ctx, args[0])
			if httpclient.IsNotFound(err) {
				fmt.Fprintf(cmd.OutOrStdout(), "No route to %s\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			return printRoutes(cmd.OutOrStdout(), []httpclient.ResolvedRoute{*route})
		},
	}
}

func printRoutes(out io.Writer, routes []httpclient.ResolvedRoute) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PREFIX\tNEXT HOP\tSOURCE\tNODE\tLOCATION")
	for _, r := range routes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Prefix, r.NextHop, r.Source, r.SourceNode, location(r))
	}
	return w.Flush()
}

func location(r httpclient.ResolvedRoute) string {
	if !r.Resolved {
		return "unresolved"
	}
	return r.NextHopMAC + " vlan " + r.NextHopVLAN
}
