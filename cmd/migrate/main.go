package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"skillmart/internal/infra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dsn string
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply the commerce schema to PostgreSQL",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if dsn == "" {
				dsn = os.Getenv("POSTGRES_URL")
			}
			if dsn == "" {
				return fmt.Errorf("no database: pass --dsn or set POSTGRES_URL")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL connection string (defaults to POSTGRES_URL)")

	run := func(command string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return infra.RunMigrations(cmd.Context(), dsn, command, args...)
		}
	}
	root.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", Args: cobra.NoArgs, RunE: run("up")},
		&cobra.Command{Use: "down", Short: "Roll back the latest migration", Args: cobra.NoArgs, RunE: run("down")},
		&cobra.Command{Use: "redo", Short: "Roll back and reapply the latest migration", Args: cobra.NoArgs, RunE: run("redo")},
		&cobra.Command{Use: "status", Short: "Print the state of every migration", Args: cobra.NoArgs, RunE: run("status")},
		&cobra.Command{Use: "up-to VERSION", Short: "Migrate up to VERSION", Args: cobra.ExactArgs(1), RunE: run("up-to")},
	)
	return root
}
