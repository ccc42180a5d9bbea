package main

import (
	"fmt"

	"github.com/rpattn/shopwindow/internal/db"

	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.NewConnection(cmd.Context(), opts.cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()
			return db.RunMigrations(conn.Pool, opts.logger)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return withCode(exitUsage, fmt.Errorf("--steps must be positive, got %d", steps))
			}
			conn, err := db.NewConnection(cmd.Context(), opts.cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()
			return db.RollbackMigrations(conn.Pool, steps, opts.logger)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")

	cmd.AddCommand(up, down)
	return cmd
}
