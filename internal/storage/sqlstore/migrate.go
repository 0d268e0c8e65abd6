package sqlstore

import (
	"context"
	"crypto/md5"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"time"

	"webhook-relay/internal/common/logging"
)

//go:embed migrations
var migrationFiles embed.FS

var migrationVersionRegex = regexp.MustCompile(`^(\d+)_.*\.sql$`)

// Migration represents a single schema migration
type Migration struct {
	Version  string
	Filename string
	Content  string
	Checksum string
}

// MigrationManager applies the embedded migrations for one dialect in
// version order, recording each in schema_migrations.
type MigrationManager struct {
	db      *sql.DB
	dialect Dialect
	logger  logging.Logger
}

// NewMigrationManager creates a migration manager for db
func NewMigrationManager(db *sql.DB, dialect Dialect, logger logging.Logger) *MigrationManager {
	return &MigrationManager{db: db, dialect: dialect, logger: logger}
}

// RunMigrations applies every migration not yet recorded
func (m *MigrationManager) RunMigrations(ctx context.Context) error {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migration files: %w", err)
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	pending := make([]Migration, 0, len(migrations))
	for _, migration := range migrations {
		if !applied[migration.Version] {
			pending = append(pending, migration)
		}
	}

	if len(pending) == 0 {
		m.logger.Debug("Database schema is up to date",
			logging.Field{Key: "dialect", Value: string(m.dialect)},
		)
		return nil
	}

	for _, migration := range pending {
		if err := m.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	m.logger.Info("Migrations applied",
		logging.Field{Key: "dialect", Value: string(m.dialect)},
		logging.Field{Key: "applied_count", Value: len(pending)},
	)
	return nil
}

func (m *MigrationManager) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			applied_at BIGINT NOT NULL,
			checksum TEXT
		)`)
	return err
}

func (m *MigrationManager) loadMigrations() ([]Migration, error) {
	dir := path.Join("migrations", string(m.dialect))
	entries, err := fs.ReadDir(migrationFiles, dir)
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationVersionRegex.FindStringSubmatch(entry.Name())
		if len(matches) < 2 {
			m.logger.Warn("Skipping file with invalid version format",
				logging.Field{Key: "filename", Value: entry.Name()},
			)
			continue
		}

		content, err := fs.ReadFile(migrationFiles, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version:  matches[1],
			Filename: entry.Name(),
			Content:  string(content),
			Checksum: fmt.Sprintf("%x", md5.Sum(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		a, _ := strconv.Atoi(migrations[i].Version)
		b, _ := strconv.Atoi(migrations[j].Version)
		return a < b
	})

	return migrations, nil
}

func (m *MigrationManager) getAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *MigrationManager) applyMigration(ctx context.Context, migration Migration) error {
	m.logger.Info("Applying migration",
		logging.Field{Key: "version", Value: migration.Version},
		logging.Field{Key: "filename", Value: migration.Filename},
	)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.Content); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		m.dialect.Rebind("INSERT INTO schema_migrations (version, filename, applied_at, checksum) VALUES (?, ?, ?, ?)"),
		migration.Version,
		migration.Filename,
		time.Now().UTC().UnixMicro(),
		migration.Checksum,
	)
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
