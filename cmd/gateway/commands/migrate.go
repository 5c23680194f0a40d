// SPDX-License-Identifier: MIT

package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lockerfleet/fleet/internal/config"
	"github.com/lockerfleet/fleet/internal/persistence/sqlite"
	"github.com/lockerfleet/fleet/internal/version"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	Long: `Opens the fleet's shared SQLite database and applies any pending
schema migrations. Safe to run before the first "serve" on a fresh
data directory, or after an upgrade that added tables or columns.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "lockerfleet.db")
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer db.Close()

	if err := sqlite.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	fmt.Printf("migrations applied to %s\n", dbPath)
	return nil
}
