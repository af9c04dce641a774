package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/easzlab/ezfwd/pkg/config"
	"github.com/easzlab/ezfwd/pkg/prompt"
	"github.com/easzlab/ezfwd/pkg/ruletable"
	"github.com/spf13/cobra"
)

func newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Report duplicate relay ports and rules missing their accept rule",
		Long: `Scan the rule table for anomalies. Nothing is changed: deciding which of
two rules on the same relay port is authoritative is left to the operator.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := loadApp()
			if err != nil {
				return err
			}
			defer logger.Sync()

			rep, err := a.Views.Cleanup()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rep.Clean() {
				printSuccess(out, "no anomalies found")
				return nil
			}

			if len(rep.Duplicates) > 0 {
				t := newTable("RELAY", "RULES")
				for _, dup := range rep.Duplicates {
					targets := make([]string, 0, len(dup.Rules))
					for _, rule := range dup.Rules {
						targets = append(targets, rule.Target())
					}
					t.Row(strconv.Itoa(int(dup.RelayPort)), strings.Join(targets, "\n"))
				}
				printWarning(out, "%d relay port(s) claimed more than once", len(rep.Duplicates))
				fmt.Fprintln(out, t.String())
			}
			for _, rule := range rep.MissingAccept {
				printWarning(out, "%s has no FORWARD accept rule for port %d", rule, rule.TargetPort)
			}
			printInfo(out, "resolve with 'ezfwd remove <relayPort>' or 'ezfwd modify'")
			return nil
		},
	}
}

func newSaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Save the live rule table to persist.rules_file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := loadApp()
			if err != nil {
				return err
			}
			defer logger.Sync()

			path, err := a.Store.Save()
			if err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "rules saved to %s", path)
			return nil
		},
	}
}

func newRestoreCommand() *cobra.Command {
	var (
		from  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace the live rule table with a saved file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := loadApp()
			if err != nil {
				return err
			}
			defer logger.Sync()

			path := from
			if path == "" {
				path = a.Store.RulesFile()
			}

			out := cmd.OutOrStdout()
			if !force {
				confirmed, err := prompt.Confirm(fmt.Sprintf("replace the live rule table with %s?", path), cmd.InOrStdin(), out)
				if err != nil {
					return err
				}
				if !confirmed {
					printInfo(out, "cancelled")
					return nil
				}
			}

			restore := a.Store.Restore
			if from != "" {
				restore = func() error { return a.Store.RestoreFrom(from) }
			}
			if err := restore(); err != nil {
				return err
			}
			printSuccess(out, "rules restored from %s", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "file to restore (default: persist.rules_file)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "restore without asking for confirmation")
	return cmd
}

func newBackupCommand() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a timestamped copy of the live rule table to persist.backup_dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := loadApp()
			if err != nil {
				return err
			}
			defer logger.Sync()

			out := cmd.OutOrStdout()
			if list {
				backups, err := a.Store.ListBackups()
				if err != nil {
					return err
				}
				if len(backups) == 0 {
					printInfo(out, "no backups in %s", a.Config.Persist.BackupDir)
					return nil
				}
				t := newTable("FILE", "SIZE", "MODIFIED")
				for _, b := range backups {
					t.Row(b.Path, strconv.FormatInt(b.Size, 10), b.ModTime.Format("2006-01-02 15:04:05"))
				}
				fmt.Fprintln(out, t.String())
				return nil
			}

			path, err := a.Store.Backup()
			if err != nil {
				return err
			}
			printSuccess(out, "backup written to %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "list existing backups instead of creating one")
	return cmd
}

func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show version, configuration and environment details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := loadApp()
			if err != nil {
				return err
			}
			defer logger.Sync()

			configSource := a.ConfigMgr.Path()
			if !a.ConfigMgr.FileLoaded() {
				configSource += " (not found, defaults and environment)"
			}
			forwarding, err := a.Forwarding.Enabled()
			forwardingText := yesNo(forwarding)
			if err != nil {
				forwardingText = warnStyle.Render("unknown")
			}

			t := newTable("ITEM", "VALUE")
			t.Row("version", version)
			t.Row("config", configSource)
			t.Row("target host", a.Config.Relay.TargetHost)
			t.Row("protocol", a.Config.Relay.Protocol)
			t.Row("backend", a.Rules.BackendKind())
			t.Row("rule parser", ruletable.ParserVersion)
			t.Row("ip forwarding", forwardingText)
			t.Row("save/restore tools", yesNo(a.Store.Available()))
			t.Row("rules file", a.Config.Persist.RulesFile)
			t.Row("backup dir", a.Config.Persist.BackupDir)
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		},
	}
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}
	cmd.AddCommand(newConfigShowCommand(), newConfigInitCommand())
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()

			mgr, err := config.NewManager(configPath, logger.Named("config"))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if mgr.FileLoaded() {
				fmt.Fprintln(out, dimStyle.Render("# "+mgr.Path()))
			} else {
				fmt.Fprintln(out, dimStyle.Render("# "+mgr.Path()+" not found, showing defaults and environment"))
			}
			printSettings(out, "", mgr.Settings())

			if err := config.Validate(mgr.GetConfig()); err != nil {
				printWarning(out, "configuration is not valid: %v", err)
				return err
			}
			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()

			mgr, err := config.NewManager(configPath, logger.Named("config"))
			if err != nil {
				return err
			}
			if err := mgr.WriteDefault(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printSuccess(out, "wrote %s", mgr.Path())
			printInfo(out, "set relay.target_host before adding rules")
			return nil
		},
	}
}

// printSettings prints nested settings as sorted dotted keys.
func printSettings(out io.Writer, prefix string, settings map[string]any) {
	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		if nested, ok := settings[key].(map[string]any); ok {
			printSettings(out, name, nested)
			continue
		}
		fmt.Fprintf(out, "%s = %v\n", name, settings[key])
	}
}
