// cmd/chaos/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"libracheck/internal/chaos"
	"libracheck/internal/telemetry"
)

var (
	flagVerbosity int
	flagPause     time.Duration
	flagNoColor   bool
)

var rootCmd = &cobra.Command{
	Use:           "chaos",
	Short:         "Run the circulation game day against an in-memory lab",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		color.NoColor = color.NoColor || flagNoColor
		logger := telemetry.NewLogger("chaos", flagVerbosity)

		lab := chaos.NewLab(logger, "water stains")
		defer lab.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		engine := chaos.NewEngine(logger)
		engine.RegisterExperiments(lab)

		_, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
			Name:      "Circulation Game Day",
			Date:      time.Now(),
			Scenarios: engine.Experiments(),
			Pause:     flagPause,
		}, cmd.OutOrStdout())
		return err
	},
}

func main() {
	rootCmd.Flags().IntVarP(&flagVerbosity, "verbosity", "v", 0, "Log verbosity")
	rootCmd.Flags().DurationVar(&flagPause, "pause", 0, "Pause between experiments")
	rootCmd.Flags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}
