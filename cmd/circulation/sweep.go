// cmd/circulation/sweep.go
package main

import (
	"time"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Send overdue notices once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sent, err := a.circulation.SweepOverdue(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		cmd.Printf("sent %d overdue notices\n", sent)
		return nil
	},
}
