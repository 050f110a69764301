package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"rocketcrash/internal/config"
)

func newMigrator(cfg config.Database, path string) (*migrate.Migrate, error) {
	dsn := "pgx5://" + strings.TrimPrefix(cfg.URL(), "postgres://")
	m, err := migrate.New("file://"+path, dsn)
	if err != nil {
		return nil, fmt.Errorf("init migrations from %s: %w", path, err)
	}
	return m, nil
}

func closeMigrator(m *migrate.Migrate, err error) error {
	srcErr, dbErr := m.Close()
	return errors.Join(err, srcErr, dbErr)
}

// RunMigrations applies every pending migration under path.
func RunMigrations(cfg config.Database, path string) error {
	m, err := newMigrator(cfg, path)
	if err != nil {
		return err
	}
	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		err = nil
	}
	return closeMigrator(m, err)
}

// RollbackMigration reverts the most recent migration.
func RollbackMigration(cfg config.Database, path string) error {
	m, err := newMigrator(cfg, path)
	if err != nil {
		return err
	}
	return closeMigrator(m, m.Steps(-1))
}

// GetMigrationVersion reports the applied version; 0 means none.
func GetMigrationVersion(cfg config.Database, path string) (uint, bool, error) {
	m, err := newMigrator(cfg, path)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, closeMigrator(m, nil)
	}
	return version, dirty, closeMigrator(m, err)
}
