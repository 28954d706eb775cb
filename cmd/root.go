package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ironfield/rtuhub/internal/config"
)

// loadedConfig is populated by the root command's PersistentPreRunE
// and read by subcommands once it returns.
var loadedConfig config.Config

func NewRootCommand() *cobra.Command {
	var dbPathOverride string
	var verbose int

	rootCmd := &cobra.Command{
		Use:   "rtuhub",
		Short: "rtuhub - RTU/PLC sensor and actuator hub",
		Long:  `rtuhub reads field sensors, evaluates alarm rules, drives actuators, and bridges cyclic I/O to a PROFINET controller.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if dbPathOverride != "" {
				cfg.DBPath = dbPathOverride
			}
			if verbose > 0 {
				cfg.Verbose = verbose
			}
			loadedConfig = cfg

			slog.SetDefault(config.NewLogger(os.Stderr, cfg.Verbose))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&dbPathOverride, "db-path", "", "override the configured database path")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewRunCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}
