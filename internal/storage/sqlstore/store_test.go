package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/config"
	"webhook-relay/internal/models"
	"webhook-relay/internal/storage"
	"webhook-relay/internal/storage/storagetest"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), SQLite, ":memory:", logging.NewNopLogger())
	require.NoError(t, err)
	return s
}

func TestSQLiteConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return openMemory(t)
	})
}

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE b = ? AND c = ?"
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", Postgres.Rebind(q))
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), SQLite, "", nil)
	assert.Error(t, err)
}

func TestMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")

	first, err := Open(context.Background(), SQLite, path, logging.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, first.CreateSource(context.Background(), &models.Source{
		ID: "s1", Name: "shop", Token: "t", MaxBodyBytes: 1, Enabled: true,
	}))
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), SQLite, path, logging.NewNopLogger())
	require.NoError(t, err)
	defer second.Close()

	got, err := second.GetSource(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "shop", got.Name)

	var applied int
	require.NoError(t, second.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 2, applied)
}

func TestRegisteredAsSQLite(t *testing.T) {
	s, err := storage.NewStorage(&config.Config{
		DatabaseType: "sqlite",
		DatabasePath: filepath.Join(t.TempDir(), "factory.db"),
	})
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &Store{}, s)
}
