package postgres

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationVersion reports the applied schema version.
type MigrationVersion struct {
	Version uint
	Dirty   bool
	None    bool // nothing applied yet
}

// Migrate applies the embedded migrations. action is up, down, drop or
// version; only version returns a non-nil MigrationVersion.
func Migrate(dsn, action string) (*MigrationVersion, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("postgres: open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: create migrate instance: %w", err)
	}
	defer m.Close()

	switch action {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, err
		}
		return nil, nil
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, err
		}
		return nil, nil
	case "drop":
		return nil, m.Drop()
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return &MigrationVersion{None: true}, nil
		}
		if err != nil {
			return nil, err
		}
		return &MigrationVersion{Version: version, Dirty: dirty}, nil
	default:
		return nil, fmt.Errorf("postgres: unsupported migration action %q", action)
	}
}
