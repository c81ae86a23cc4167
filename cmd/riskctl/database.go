package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alem-hub/student-risk-monitor/config"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/persistence/postgres"
)

// connect opens the database named by DATABASE_URL (or DB_* variables).
func connect(ctx context.Context) (*postgres.Connection, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if !cfg.UsesPostgres() {
		return nil, errors.New("DATABASE_URL is not set")
	}
	return postgres.NewConnection(ctx, postgres.Config{
		URL:      cfg.Database.URL,
		MaxConns: 2,
		MinConns: 1,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newMigrateCmd() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			migrator := postgres.NewMigrator(conn)
			if !status {
				if err := migrator.Migrate(ctx); err != nil {
					return err
				}
			}
			migrations, err := migrator.Status(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, m := range migrations {
				if m.IsApplied {
					fmt.Fprintf(out, "%s %03d %-24s %s\n", color.GreenString("✓"), m.Version, m.Name,
						dimColor.Sprint(m.AppliedAt.Format("2006-01-02 15:04:05")))
				} else {
					fmt.Fprintf(out, "%s %03d %-24s %s\n", color.YellowString("○"), m.Version, m.Name,
						dimColor.Sprint("pending"))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "only list migrations, do not apply")
	return cmd
}

func newRecordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Manage student records",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import a YAML records snapshot into the database",
		Long: `Validates the file and replaces the records of every student it lists
in one transaction. Students not in the file are left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := memory.LoadRecordsFile(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			conn, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := postgres.NewRecordRepository(conn).Import(ctx, records); err != nil {
				return fmt.Errorf("import: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s imported %d students from %s\n",
				color.GreenString("✓"), len(records), args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a YAML records snapshot without importing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := memory.LoadRecordsFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d students\n", color.GreenString("✓"), args[0], len(records))
			return nil
		},
	})
	return cmd
}
