package main

import (
	"fmt"
	"os"

	"github.com/easzlab/ezfwd/pkg/app"
	"github.com/easzlab/ezfwd/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version    = "dev"
	configPath string
	logLevel   string
	verbose    bool

	// level is shared by every logger so the config file can lower or
	// raise it after loading.
	level = zap.NewAtomicLevelAt(zap.WarnLevel)
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, "%v", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ezfwd",
		Short: "ezfwd - iptables based TCP port forwarding manager",
		Long: `ezfwd manages TCP port forwarding rules on a relay host.

Each mapping redirects a relay port on this host to a port on the fixed
target host. The iptables NAT table is the only source of truth: every
command re-reads it, nothing is cached between runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error), overrides global.log_level")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		newAddCommand(),
		newAutoCommand(),
		newMapCommand(),
		newModifyCommand(),
		newEditCommand(),
		newRemoveCommand(),
		newRangeCommand(),
		newListCommand(),
		newStatusCommand(),
		newTestCommand(),
		newCheckCommand(),
		newFindFreeCommand(),
		newCleanupCommand(),
		newSaveCommand(),
		newRestoreCommand(),
		newBackupCommand(),
		newInfoCommand(),
		newConfigCommand(),
		newVersionCommand(),
	)

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ezfwd version %s\n", version)
		},
	}
}

// loadApp creates the logger, loads the config and wires all modules.
func loadApp() (*app.App, *zap.Logger, error) {
	logger := newLogger()
	applyLogLevel("")

	a, err := app.New(configPath, logger)
	if err != nil {
		return nil, logger, err
	}
	applyLogLevel(a.Config.Global.LogLevel)
	return a, logger, nil
}

// applyLogLevel sets the shared level. --verbose wins over --log-level,
// which wins over the config value.
func applyLogLevel(configured string) {
	name := configured
	if logLevel != "" {
		name = logLevel
	}
	if verbose {
		name = "debug"
	}
	if name == "" {
		return
	}
	parsed, err := zapcore.ParseLevel(name)
	if err != nil {
		return
	}
	level.SetLevel(parsed)
}

// newLogger creates a production zap logger with console encoding for readability.
// Logs go to stderr so they never mix with command output.
func newLogger() *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	loggerConfig := zap.Config{
		Level:            level,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := loggerConfig.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	return logger
}
