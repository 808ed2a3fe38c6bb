package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migration struct {
	version int
	name    string
	up      string
	down    string
}

// RunMigrations applies all pending migrations to the database at dbPath.
func RunMigrations(ctx context.Context, dbPath string) error {
	return runMigrate(ctx, dbPath, false)
}

// RollbackMigrations rolls back all migrations of the database at dbPath.
func RollbackMigrations(ctx context.Context, dbPath string) error {
	return runMigrate(ctx, dbPath, true)
}

func runMigrate(ctx context.Context, dbPath string, down bool) error {
	db, err := open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrate(ctx, db, down)
}

// SchemaVersion returns the highest applied migration.
func (d *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := d.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}

func migrate(ctx context.Context, db *sql.DB, down bool) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			dirty INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current, dirty int
	err = db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0), COALESCE(MAX(dirty), 0) FROM schema_migrations`).Scan(&current, &dirty)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}
	if dirty != 0 {
		return fmt.Errorf("database is in dirty state at version %d, manual intervention required", current)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	if down {
		slices.Reverse(migrations)
		for _, m := range migrations {
			if m.version > current {
				continue
			}
			if m.down == "" {
				return fmt.Errorf("no down migration for version %d", m.version)
			}
			if err := step(ctx, db, m.version, m.down, `DELETE FROM schema_migrations WHERE version = ?`); err != nil {
				return fmt.Errorf("roll back %s: %w", m.name, err)
			}
			slog.Debug("rolled back migration", "name", m.name)
		}
		return nil
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if m.up == "" {
			return fmt.Errorf("no up migration for version %d", m.version)
		}
		if err := step(ctx, db, m.version, m.up, `UPDATE schema_migrations SET dirty = 0 WHERE version = ?`); err != nil {
			return fmt.Errorf("apply %s: %w", m.name, err)
		}
		slog.Debug("applied migration", "name", m.name)
	}
	return nil
}

// step marks version dirty, runs script, then runs finish to record the
// result. A failed script leaves the version dirty.
func step(ctx context.Context, db *sql.DB, version int, script, finish string) error {
	if _, err := db.ExecContext(ctx, `INSERT OR REPLACE INTO schema_migrations (version, dirty) VALUES (?, 1)`, version); err != nil {
		return fmt.Errorf("mark version %d as dirty: %w", version, err)
	}
	if _, err := db.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, finish, version); err != nil {
		return fmt.Errorf("record version %d: %w", version, err)
	}
	return nil
}

// loadMigrations returns the embedded migrations ordered by version.
func loadMigrations() ([]*migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	byVersion := make(map[int]*migration)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}

		m := byVersion[version]
		if m == nil {
			m = &migration{version: version}
			byVersion[version] = m
		}
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			m.up = string(content)
			m.name = strings.TrimSuffix(name, ".up.sql")
		case strings.HasSuffix(name, ".down.sql"):
			m.down = string(content)
		}
	}

	migrations := make([]*migration, 0, len(byVersion))
	for _, m := range byVersion {
		migrations = append(migrations, m)
	}
	slices.SortFunc(migrations, func(a, b *migration) int { return a.version - b.version })
	return migrations, nil
}
