// Package sqlstore implements storage.Storage on database/sql for SQLite
// (mattn/go-sqlite3) and PostgreSQL (pgx stdlib). Both dialects share one
// set of queries; placeholders are rebound per dialect and times are
// stored as UTC unix microseconds.
package sqlstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/config"
	"webhook-relay/internal/storage"
)

// Dialect selects the SQL flavour and the matching migration set.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func init() {
	storage.Register(string(SQLite), func(cfg *config.Config) (storage.Storage, error) {
		return Open(context.Background(), SQLite, cfg.DatabasePath, logging.Component("storage"))
	})
	storage.Register(string(Postgres), func(cfg *config.Config) (storage.Storage, error) {
		return Open(context.Background(), Postgres, cfg.PostgresDSN(), logging.Component("storage"))
	})
}

// Rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite3"
}

// Store is a SQL-backed storage.Storage.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  logging.Logger
}

// Open connects, pings and migrates the database.
func Open(ctx context.Context, dialect Dialect, dsn string, logger logging.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.ConfigError("database connection string is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, errors.ConnectionError("failed to open database", err)
	}

	if dialect == SQLite {
		// One connection serialises writers and keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.ConnectionError("failed to ping database", err)
	}

	if err := NewMigrationManager(db, dialect, logger).RunMigrations(ctx); err != nil {
		db.Close()
		return nil, errors.InternalError("failed to migrate database", err)
	}

	logger.Info("Storage ready", logging.Field{Key: "dialect", Value: string(dialect)})

	return &Store{db: db, dialect: dialect, logger: logger}, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.UnavailableError("database unreachable", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

// requireAffected turns a zero-row update or delete into not_found.
func requireAffected(result sql.Result, resource string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.InternalError("failed to read affected rows", err)
	}
	if n == 0 {
		return errors.NotFoundError(resource)
	}
	return nil
}

// wrapErr maps driver errors onto the relay error taxonomy.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	if isUniqueViolation(err) {
		return errors.ConflictError(op + ": duplicate value violates a unique constraint")
	}
	if stderrors.Is(err, sql.ErrConnDone) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.UnavailableError(op+" failed", err)
	}
	return errors.InternalError(op+" failed", err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func notFoundOr(err error, resource, op string) error {
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFoundError(resource)
	}
	return wrapErr(op, err)
}

var _ storage.Storage = (*Store)(nil)
