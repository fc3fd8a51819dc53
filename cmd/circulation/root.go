// cmd/circulation/root.go
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"libracheck/internal/config"
	"libracheck/internal/telemetry"
)

var (
	cfg    *config.Config
	logger logr.Logger

	flagConfig    string
	flagVerbosity int
)

var rootCmd = &cobra.Command{
	Use:   "circulation",
	Short: "Lend books and fine students for damage found on return",
	Long: `circulation runs the borrowing lifecycle service.

Books are borrowed and returned with condition photos. Tags found on the
return photos that were not present at borrow time are priced from the
damage tariff and charged to the student.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
		verbosity := cfg.Telemetry.Verbosity
		if cmd.Flags().Changed("verbosity") {
			verbosity = flagVerbosity
		}
		logger = telemetry.NewLogger("circulation", verbosity)
		return nil
	},
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: $LIBRACHECK_CONFIG)")
	rootCmd.PersistentFlags().IntVarP(&flagVerbosity, "verbosity", "v", 0, "Log verbosity")

	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd)
}
