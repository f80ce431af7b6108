package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"entadmin.org/internal/config"
	"entadmin.org/internal/migrate"
	"entadmin.org/internal/store/sqlstore"
)

var timeout time.Duration

var rootCmd = &cobra.Command{
	Use:          "migrate",
	Short:        "Manage the entadmin database schema",
	SilenceUsage: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: withManager(func(ctx context.Context, mgr *migrate.Manager) error {
		return mgr.Up(ctx)
	}),
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: withManager(func(ctx context.Context, mgr *migrate.Manager) error {
		return mgr.Down(ctx)
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied migrations in order",
	RunE: withManager(func(ctx context.Context, mgr *migrate.Manager) error {
		history, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, item := range history {
			fmt.Println(item)
		}
		return nil
	}),
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo catalog data",
	RunE: withManager(func(ctx context.Context, mgr *migrate.Manager) error {
		return mgr.Seed(ctx)
	}),
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall deadline for the command")
	rootCmd.AddCommand(upCmd, downCmd, statusCmd, seedCmd)
}

// withManager opens the configured database and hands a Manager to fn.
func withManager(fn func(ctx context.Context, mgr *migrate.Manager) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadDatabase()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		store, err := sqlstore.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()

		mgr, err := migrate.NewManager(store.DB())
		if err != nil {
			return err
		}
		if err := fn(ctx, mgr); err != nil {
			return fmt.Errorf("migrate %s: %w", cmd.Name(), err)
		}
		return nil
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
