package datastore

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// sqlmockStore is a Store whose queries are answered by go-sqlmock expectations.
type sqlmockStore struct {
	db *gorm.DB
}

// MockTheStore installs a sqlmock backed store and returns it with its expectations handle.
func MockTheStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	var dialector = postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		DriverName:           "postgres",
		Conn:                 db,
		PreferSimpleProtocol: true,
	})
	gdb, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	s := &sqlmockStore{db: gdb}
	instance = s
	t.Cleanup(func() {
		db.Close()
	})
	return s, mock
}

func (store *sqlmockStore) Open() error {
	return nil
}

func (store *sqlmockStore) Close() {}

func (store *sqlmockStore) GetDB() *gorm.DB {
	return store.db
}

func (store *sqlmockStore) AutoMigrate() error {
	return nil
}
