package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sakif/snippet-keeper/internal/config"
	sqliteRepo "github.com/sakif/snippet-keeper/internal/repository/sqlite"
)

func newMigrateCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (defaults to DB_PATH)")

	run := func(action func(ctx context.Context, db *sqliteRepo.DB, out io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			path := dbPath
			if path == "" {
				dbCfg, err := config.LoadDatabase(ctx)
				if err != nil {
					return err
				}
				path = dbCfg.DBPath
			}
			if err := ensureDir(path); err != nil {
				return err
			}

			db, err := sqliteRepo.Open(path)
			if err != nil {
				return err
			}
			defer db.Close()
			return action(ctx, db, cmd.OutOrStdout())
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  run(migrateUp),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE:  run(migrateDown),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE:  run(migrateStatus),
	})
	return cmd
}

func migrateUp(ctx context.Context, db *sqliteRepo.DB, out io.Writer) error {
	results, err := db.MigrateUp(ctx)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "no pending migrations")
	}
	for _, r := range results {
		fmt.Fprintf(out, "OK   %s (%s)\n", r.Source.Path, r.Duration)
	}
	return nil
}

func migrateDown(ctx context.Context, db *sqliteRepo.DB, out io.Writer) error {
	r, err := db.MigrateDown(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "DOWN %s (%s)\n", r.Source.Path, r.Duration)
	return nil
}

func migrateStatus(ctx context.Context, db *sqliteRepo.DB, out io.Writer) error {
	statuses, err := db.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	for _, st := range statuses {
		applied := "-"
		if !st.AppliedAt.IsZero() {
			applied = st.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(out, "%-8s %-40s %s\n", st.State, st.Source.Path, applied)
	}
	return nil
}
