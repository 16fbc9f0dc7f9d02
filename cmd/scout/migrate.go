package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"scout/migrations"
)

var flagMigrateDB string

var migrateCmd = &cobra.Command{
	Use:   "migrate <command>",
	Short: "Manage the database schema",
	Long: `Run a goose migration command against the SQLite database.

Commands:
  up          Migrate to the latest version
  up-one      Migrate one version up
  down        Roll back one version
  status      Show migration status
  version     Show current version
  reset       Roll back all migrations`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: migrations.Commands,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := sql.Open("sqlite", flagMigrateDB)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer func() { _ = db.Close() }()

		return migrations.Exec(db, args[0])
	},
}

func init() {
	migrateCmd.Flags().StringVar(&flagMigrateDB, "db", envOrDefault("DATABASE_PATH", "./data/scout.db"), "path to sqlite database")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
