package datastore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemoryMigrations(t *testing.T) {
	s, err := UseInMemory()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AutoMigrate())
	// goose keeps its version table, so a second run is a no-op
	require.NoError(t, s.AutoMigrate())

	var tables []string
	require.NoError(t, s.GetDB().
		Raw(`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`).
		Scan(&tables).Error)
	require.Contains(t, tables, "file_hash_cache")
	require.Contains(t, tables, "deployments")
	require.Same(t, s, GetStore())
}

func TestWithTransaction(t *testing.T) {
	s, err := UseInMemory()
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.AutoMigrate())

	db := s.GetDB()
	insert := `INSERT INTO file_hash_cache (content_hash, transaction_id, byte_size, content_type, created_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`

	rollback := errors.New("rollback")
	err = WithTransaction(context.Background(), db, func(ctx context.Context) error {
		tx := GetTransaction(ctx, db)
		require.NoError(t, tx.Exec(insert, "h1", "tx1", 1, "text/plain").Error)
		// nested calls join the outer transaction
		return WithTransaction(ctx, db, func(ctx context.Context) error {
			require.NoError(t, GetTransaction(ctx, db).Exec(insert, "h2", "tx2", 2, "text/plain").Error)
			return rollback
		})
	})
	require.ErrorIs(t, err, rollback)

	var count int64
	require.NoError(t, db.Table("file_hash_cache").Count(&count).Error)
	require.Zero(t, count)
}

func TestMockTheStore(t *testing.T) {
	s, mock := MockTheStore(t)
	require.Same(t, s, GetStore())
	require.NoError(t, s.AutoMigrate())
	require.NoError(t, mock.ExpectationsWereMet())
}
