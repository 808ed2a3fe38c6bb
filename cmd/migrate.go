package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jandubois/shutter/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run delivery history migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("down", false, "Roll back all migrations")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	path, err := getHistoryPath()
	if err != nil {
		return err
	}
	down, _ := cmd.Flags().GetBool("down")

	if down {
		slog.Info("rolling back all migrations", "database", path)
		if err := db.RollbackMigrations(cmd.Context(), path); err != nil {
			return err
		}
		slog.Info("migrations rolled back")
	} else {
		slog.Info("running migrations", "database", path)
		if err := db.RunMigrations(cmd.Context(), path); err != nil {
			return err
		}
		slog.Info("migrations complete")
	}

	return nil
}
