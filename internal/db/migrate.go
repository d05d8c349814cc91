package db

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/banshee-data/scanmesh/internal/monitoring"
)

// ErrSchemaOutdated is returned by CheckMigrations when migrations are pending.
var ErrSchemaOutdated = errors.New("database schema is out of date")

// MigrationStatus summarises where the database stands.
type MigrationStatus struct {
	CurrentVersion uint `json:"current_version"`
	LatestVersion  uint `json:"latest_version"`
	Dirty          bool `json:"dirty"`
	TableExists    bool `json:"schema_migrations_exists"`
}

// Pending is the number of migrations not yet applied.
func (s MigrationStatus) Pending() uint {
	if s.CurrentVersion >= s.LatestVersion {
		return 0
	}
	return s.LatestVersion - s.CurrentVersion
}

// ignoreNoChange treats "already there" as success.
func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// withMigrator runs fn against a migrator over migrations. The migrator is
// left open since closing it would close db.DB too.
func (db *DB) withMigrator(migrations fs.FS, what string, fn func(*migrate.Migrate) error) error {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// MigrateUp applies every pending migration. Being up to date is not an
// error.
func (db *DB) MigrateUp(migrations fs.FS) error {
	return db.withMigrator(migrations, "migrate up", func(m *migrate.Migrate) error {
		return ignoreNoChange(m.Up())
	})
}

// MigrateDown rolls back the most recent migration.
func (db *DB) MigrateDown(migrations fs.FS) error {
	return db.withMigrator(migrations, "migrate down", func(m *migrate.Migrate) error {
		return ignoreNoChange(m.Steps(-1))
	})
}

// MigrateTo moves up or down to version.
func (db *DB) MigrateTo(migrations fs.FS, version uint) error {
	return db.withMigrator(migrations, fmt.Sprintf("migrate to %d", version), func(m *migrate.Migrate) error {
		return ignoreNoChange(m.Migrate(version))
	})
}

// MigrateForce records version as applied without running anything. It is
// only for clearing a dirty state.
func (db *DB) MigrateForce(migrations fs.FS, version int) error {
	return db.withMigrator(migrations, fmt.Sprintf("force version %d", version), func(m *migrate.Migrate) error {
		return m.Force(version)
	})
}

// MigrateVersion returns the applied version, or 0 when nothing is applied.
func (db *DB) MigrateVersion(migrations fs.FS) (version uint, dirty bool, err error) {
	err = db.withMigrator(migrations, "read version", func(m *migrate.Migrate) error {
		version, dirty, err = m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		return err
	})
	return version, dirty, err
}

// MigrationStatus reports the applied and latest versions.
func (db *DB) MigrationStatus(migrations fs.FS) (MigrationStatus, error) {
	var st MigrationStatus
	var err error

	const q = `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations')`
	if err = db.QueryRow(q).Scan(&st.TableExists); err != nil {
		return st, fmt.Errorf("look up schema_migrations: %w", err)
	}
	if st.CurrentVersion, st.Dirty, err = db.MigrateVersion(migrations); err != nil {
		return st, err
	}
	if st.LatestVersion, err = GetLatestMigrationVersion(migrations); err != nil {
		return st, err
	}
	return st, nil
}

// CheckMigrations returns ErrSchemaOutdated when the database is behind,
// dirty or ahead of the embedded migrations.
func (db *DB) CheckMigrations(migrations fs.FS) error {
	st, err := db.MigrationStatus(migrations)
	if err != nil {
		return err
	}
	switch {
	case st.Dirty:
		return fmt.Errorf("%w: dirty at version %d, run 'scanmesh migrate status'", ErrSchemaOutdated, st.CurrentVersion)
	case st.CurrentVersion > st.LatestVersion:
		return fmt.Errorf("database version %d is ahead of latest migration %d", st.CurrentVersion, st.LatestVersion)
	case st.Pending() > 0:
		return fmt.Errorf("%w: version %d, need %d, run 'scanmesh migrate up'", ErrSchemaOutdated, st.CurrentVersion, st.LatestVersion)
	}
	return nil
}

// GetLatestMigrationVersion returns the highest NNNNNN prefix among the
// *.up.sql files in migrations.
func GetLatestMigrationVersion(migrations fs.FS) (uint, error) {
	names, err := fs.Glob(migrations, "*.up.sql")
	if err != nil {
		return 0, fmt.Errorf("list migrations: %w", err)
	}
	var latest uint
	for _, name := range names {
		prefix, _, _ := strings.Cut(path.Base(name), "_")
		if v, err := strconv.ParseUint(prefix, 10, 32); err == nil {
			latest = max(latest, uint(v))
		}
	}
	if latest == 0 {
		return 0, fmt.Errorf("no numbered migrations among %d files", len(names))
	}
	return latest, nil
}

func (db *DB) newMigrate(migrations fs.FS) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}
	target, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite migration target: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", target)
	if err != nil {
		return nil, fmt.Errorf("new migrator: %w", err)
	}
	m.Log = migrateLog{}
	return m, nil
}

var migrateLogf = monitoring.Component("Migrate")

// migrateLog sends golang-migrate output to the component logger.
type migrateLog struct{}

func (migrateLog) Printf(format string, v ...any) { migrateLogf(strings.TrimSuffix(format, "\n"), v...) }
func (migrateLog) Verbose() bool                  { return false }
