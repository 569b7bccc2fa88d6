package platform

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies every pending migration under dir to the database
// reachable at databaseURL, the single-schema simplification of the
// teacher's RunGlobalMigrations/RunTenantMigrations split — this system has
// no per-tenant schema to migrate separately.
func RunMigrations(dir, databaseURL string) error {
	return runMigrations("file://"+dir, databaseURL)
}

func runMigrations(sourceURL, databaseURL string) error {
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("platform: open migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("platform: apply migrations: %w", err)
	}
	return nil
}
