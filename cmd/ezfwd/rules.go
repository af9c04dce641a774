package main

import (
	"fmt"

	"github.com/easzlab/ezfwd/pkg/forward"
	"github.com/easzlab/ezfwd/pkg/prompt"
	"github.com/spf13/cobra"
)

func newAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <targetPort> [relayPort]",
		Short: "Forward a relay port (default: same as target) to the target host",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseAddArgs(args)
			if err != nil {
				return err
			}
			return runAdd(cmd, "add", req)
		},
	}
}

func newAutoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "auto <targetPort>",
		Short: "Forward the target port, picking the next free relay port if it is taken",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := forward.ParsePort(args[0])
			if err != nil {
				return err
			}
			return runAdd(cmd, "auto", forward.AddRequest{TargetPort: target, AutoAssign: true})
		},
	}
}

func newMapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "map <targetPort> <relayPort>",
		Short: "Forward an explicit relay port to the target port",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseAddArgs(args)
			if err != nil {
				return err
			}
			return runAdd(cmd, "map", req)
		},
	}
}

func parseAddArgs(args []string) (forward.AddRequest, error) {
	target, err := forward.ParsePort(args[0])
	if err != nil {
		return forward.AddRequest{}, err
	}
	req := forward.AddRequest{TargetPort: target}
	if len(args) > 1 {
		relay, err := forward.ParsePort(args[1])
		if err != nil {
			return forward.AddRequest{}, err
		}
		req.RelayPort = relay
	}
	return req, nil
}

func runAdd(cmd *cobra.Command, action string, req forward.AddRequest) error {
	a, logger, err := loadApp()
	if err != nil {
		return err
	}
	defer logger.Sync()

	result := a.Reconciler.Add(req)
	return printResult(cmd.OutOrStdout(), action, result)
}

func newModifyCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "modify <relayPort> [newTarget|-] [newRelay]",
		Short: "Change the target and/or relay port of a rule",
		Long: `Change the target and/or relay port of an existing rule.

Use "-" for newTarget to keep the current target while moving the relay port:
  ezfwd modify 3389 - 13389`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			relay, err := forward.ParsePort(args[0])
			if err != nil {
				return err
			}
			req := forward.ModifyRequest{RelayPort: relay, Force: force}
			if args[1] != "-" {
				if req.NewTargetPort, err = forward.ParsePort(args[1]); err != nil {
					return err
				}
			}
			if len(args) > 2 {
				if req.NewRelayPort, err = forward.ParsePort(args[2]); err != nil {
					return err
				}
			}

			a, logger, err := loadApp()
			if err != nil {
				return err
			}
			defer logger.Sync()

			return printResult(cmd.OutOrStdout(), "modify", a.Reconciler.Modify(req))
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "modify even if the new relay port is in use")
	return cmd
}

func newEditCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "edit <relayPort>",
		Short: "Edit a rule interactively",
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

			current, found, err := a.Rules.FindRule(relay)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%w: no forwarding rule on relay port %d", forward.ErrNotFound, relay)
			}

			edited, err := prompt.Edit(current, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if edited.Cancelled {
				printInfo(cmd.OutOrStdout(), "cancelled, %s left unchanged", current)
				return nil
			}

			desc, err := a.Reconciler.ProposeModify(forward.ModifyRequest{
				RelayPort:     relay,
				NewTargetPort: edited.TargetPort,
				NewRelayPort:  edited.RelayPort,
				Force:         force,
			})
			if err != nil {
				return err
			}
			// Submitting the form is the confirmation.
			return printResult(cmd.OutOrStdout(), "edit", a.Reconciler.Apply(desc, true))
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "apply even if the new relay port is in use")
	return cmd
}

func newRemoveCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "remove <relayPort>",
		Aliases: []string{"rm", "delete"},
		Short:   "Remove a forwarding rule",
		Args:    cobra.ExactArgs(1),
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

			desc, err := a.Reconciler.ProposeRemove(relay)
			if err != nil {
				return err
			}

			confirmed := force
			if !confirmed {
				confirmed, err = prompt.Confirm(desc.String()+"?", cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
			}
			return printResult(cmd.OutOrStdout(), "remove", a.Reconciler.Apply(desc, confirmed))
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "remove without asking for confirmation")
	return cmd
}

func newRangeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "range <start> <end>",
		Short: "Forward every port in [start, end] to the same port on the target host",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := forward.ParsePort(args[0])
			if err != nil {
				return err
			}
			end, err := forward.ParsePort(args[1])
			if err != nil {
				return err
			}

			a, logger, err := loadApp()
			if err != nil {
				return err
			}
			defer logger.Sync()

			rep, err := a.Reconciler.AddRange(start, end)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, result := range rep.Results {
				if !result.OK() {
					printError(out, "%d: %v", int(start)+i, result.Err)
				}
			}
			total := rep.Succeeded + rep.Failed
			if rep.Failed > 0 {
				printWarning(out, "range %d-%d: %d of %d succeeded, %d failed", start, end, rep.Succeeded, total, rep.Failed)
				return fmt.Errorf("%d of %d ports failed", rep.Failed, total)
			}
			printSuccess(out, "range %d-%d: %d of %d succeeded", start, end, rep.Succeeded, total)
			return nil
		},
	}
}
