// cmd/circulation/migrate.go
package main

import (
	"errors"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"libracheck/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Database.URL == "" {
			return errors.New("database.url is not set")
		}
		ctx := cmd.Context()
		db, err := postgres.Connect(ctx, cfg.Database.URL, postgres.ConnectOptions{
			MaxOpenConns: 1,
			MaxWait:      cfg.Database.ConnectWait,
		}, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := postgres.New(db).Migrate(ctx); err != nil {
			return err
		}
		cmd.Println(color.GreenString("schema is up to date"))
		return nil
	},
}
