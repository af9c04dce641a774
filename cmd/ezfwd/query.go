package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/easzlab/ezfwd/pkg/availability"
	"github.com/easzlab/ezfwd/pkg/forward"
	"github.com/easzlab/ezfwd/pkg/probe"
	"github.com/easzlab/ezfwd/pkg/report"
	"github.com/spf13/cobra"
)

func newListCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:     "list [port]",
		Aliases: []string{"ls"},
		Short:   "List forwarding rules, or describe one port",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := loadApp()
			if err != nil {
				return err
			}
			defer logger.Sync()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				port, err := forward.ParsePort(args[0])
				if err != nil {
					return err
				}
				desc, err := a.Views.Describe(port)
				if err != nil {
					return err
				}
				printDescription(out, desc)
				return nil
			}

			limit := a.Config.Report.DisplayLimit
			if all {
				limit = 0
			}
			listing, err := a.Views.ListAll(limit)
			if err != nil {
				return err
			}
			if listing.Total == 0 {
				printInfo(out, "no forwarding rules to %s", a.Config.Relay.TargetHost)
				return nil
			}

			t := newTable("RELAY", "TARGET", "STATUS", "LISTENER")
			for _, entry := range listing.Entries {
				t.Row(
					strconv.Itoa(int(entry.Rule.RelayPort)),
					entry.Rule.Target(),
					stateText(entry.State),
					listenerNames(entry.Listeners),
				)
			}
			fmt.Fprintln(out, t.String())
			if listing.Remaining > 0 {
				fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("... and %d more (use --all)", listing.Remaining)))
			}
			fmt.Fprintf(out, "%d rule(s)\n", listing.Total)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "show every rule instead of the first report.display_limit")
	return cmd
}

func printDescription(out io.Writer, desc report.Description) {
	usage := desc.Usage
	fmt.Fprintf(out, "Port %d: %s\n", usage.Port, conflictText(usage.Conflict))

	if len(desc.Entries) > 0 {
		t := newTable("RELAY", "TARGET", "STATUS")
		for _, entry := range desc.Entries {
			t.Row(strconv.Itoa(int(entry.Rule.RelayPort)), entry.Rule.Target(), stateText(entry.State))
		}
		fmt.Fprintln(out, t.String())
	} else {
		printInfo(out, "no forwarding rule on relay port %d", usage.Port)
	}

	for _, rule := range usage.TargetedBy {
		printInfo(out, "targeted by %s", rule)
	}
	for _, listener := range usage.Listeners {
		printInfo(out, "listener %s", listener)
	}
}

func listenerNames(listeners []probe.Listener) string {
	if len(listeners) == 0 {
		return dimStyle.Render("-")
	}
	names := make([]string, 0, len(listeners))
	for _, l := range listeners {
		name := l.Process
		if name == "" {
			name = l.Address
		}
		names = append(names, name)
	}
	return strings.Join(names, ",")
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show relay host status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := loadApp()
			if err != nil {
				return err
			}
			defer logger.Sync()

			out := cmd.OutOrStdout()
			status, statusErr := a.Views.Status()

			summary := newTable("ITEM", "VALUE")
			summary.Row("target host", status.TargetHost)
			summary.Row("backend", status.Backend)
			summary.Row("ip forwarding", yesNo(status.ForwardingEnabled))
			summary.Row("masquerade", yesNo(status.MasqueradePresent))
			summary.Row("rules", strconv.Itoa(status.RuleCount))
			fmt.Fprintln(out, summary.String())

			if len(status.WellKnown) > 0 {
				ports := newTable("PORT", "AVAILABILITY")
				for _, snapshot := range status.WellKnown {
					ports.Row(strconv.Itoa(int(snapshot.Port)), conflictText(snapshot.Conflict))
				}
				fmt.Fprintln(out, ports.String())
			}
			return statusErr
		},
	}
}

func newTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test <relayPort>",
		Short: "Check that the target behind a relay port accepts TCP connections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			relay, err := forward.ParsePort(args[0])
			if err != nil {
				return err
			}

			a, logger, err := loadApp()
			if err != nil {
				return err
			}
			defer logger.Sync()

			rep, err := a.Tester.Test(relay)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !rep.Reachable {
				printWarning(out, "%s unreachable: %s", rep.Address, rep.Reason)
				return fmt.Errorf("target %s is unreachable", rep.Address)
			}
			printSuccess(out, "%s reachable in %s", rep.Address, rep.Elapsed.Round(time.Millisecond))
			return nil
		},
	}
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <port>",
		Short: "Show whether a port is free to use as a relay port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := forward.ParsePort(args[0])
			if err != nil {
				return err
			}

			a, logger, err := loadApp()
			if err != nil {
				return err
			}
			defer logger.Sync()

			detail, err := a.Resolver.Detail(port)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Port %d: %s\n", port, conflictText(detail.Conflict))
			if len(detail.Listeners) > 0 || len(detail.Rules) > 0 {
				t := newTable("KIND", "DETAIL")
				for _, listener := range detail.Listeners {
					t.Row("listener", listener.String())
				}
				for _, rule := range detail.Rules {
					t.Row("rule", rule.String())
				}
				fmt.Fprintln(out, t.String())
			}
			return nil
		},
	}
}

func newFindFreeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "find-free [start]",
		Short: "Find the next free relay port (default start: allocator.default_start)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var start uint16
			if len(args) == 1 {
				var err error
				if start, err = forward.ParsePort(args[0]); err != nil {
					return err
				}
			}

			a, logger, err := loadApp()
			if err != nil {
				return err
			}
			defer logger.Sync()

			out := cmd.OutOrStdout()
			a.Allocator.OnProgress(func(probed int, current uint16) {
				fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("  probed %d ports, at %d", probed, current)))
			})

			port, err := a.FindAvailablePort(start)
			if errors.Is(err, availability.ErrNoFreePort) {
				printWarning(out, "%v", err)
				return err
			}
			if err != nil {
				return err
			}
			printSuccess(out, "port %d is available", port)
			return nil
		},
	}
}
