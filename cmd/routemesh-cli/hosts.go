package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/httpclient"
)

func newHostsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "List and manage the hosts next hops resolve against",
	}
	cmd.AddCommand(newHostsListCommand())
	cmd.AddCommand(newHostsAddCommand())
	cmd.AddCommand(newHostsRemoveCommand())
	return cmd
}

func newHostsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			hosts, err := client.Hosts(ctx)
			if err != nil {
				return err
			}
			if len(hosts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No hosts")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMAC\tVLAN\tIPS")
			for _, h := range hosts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", h.ID, h.MAC, h.VLAN, strings.Join(h.IPs, ","))
			}
			return w.Flush()
		},
	}
}

func newHostsAddCommand() *cobra.Command {
	var vlan int

	cmd := &cobra.Command{
		Use:   "add MAC IP...",
		Short: "Add or replace a host (admin)",
		Long: `Add a host seen at MAC that answers on the given IPs, for example
  routemesh-cli hosts add aa:bb:cc:dd:ee:01 192.168.1.1 --vlan 10
Routes whose next hop is one of the IPs resolve against it.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(); err != nil {
				return err
			}
			req := httpclient.HostRequest{MAC: args[0], IPs: args[1:]}
			if vlan >= 0 {
				req.VLAN = &vlan
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			host, err := client.AddHost(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Added host %s\n", host.ID)
			return nil
		},
	}
	cmd.Flags().IntVar(&vlan, "vlan", -1, "VLAN id; untagged when negative")
	return cmd
}

func newHostsRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a host (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := client.RemoveHost(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Removed host %s\n", args[0])
			return nil
		},
	}
}

func newClusterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Inspect and drive cluster membership",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "nodes",
		Short: "List cluster members and their states",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			nodes, err := client.Nodes(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NODE\tADDRESS\tSTATE")
			for _, n := range nodes {
				id := n.ID
				if n.Local {
					id += " (local)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", id, n.Address, n.State)
			}
			return w.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-state NODE STATE",
		Short: "Set a peer's state: INACTIVE, ACTIVE or READY (admin)",
		Long: `Set a peer's membership state. Marking a peer INACTIVE reports it as
departed and reaps every route it declared.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			state := strings.ToUpper(args[1])
			if err := client.SetNodeState(ctx, args[0], state); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Node %s is now %s\n", args[0], state)
			return nil
		},
	})
	return cmd
}
