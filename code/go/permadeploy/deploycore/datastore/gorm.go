package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/common"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/config"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DialectSqlite   = "sqlite3"
	DialectPostgres = "postgres"
)

// gormStore is a Store over any gorm dialector; the dialect only matters for migrations.
type gormStore struct {
	db        *gorm.DB
	dialect   string
	dialector func() gorm.Dialector
}

// UseSqlite selects a file backed sqlite database at path.
func UseSqlite(path string) {
	instance = &gormStore{
		dialect: DialectSqlite,
		dialector: func() gorm.Dialector {
			return sqlite.Open(path + "?_busy_timeout=5000&_journal_mode=WAL")
		},
	}
}

// UsePostgres selects the postgres database described by config.Configuration.
func UsePostgres() {
	c := config.Configuration
	instance = &gormStore{
		dialect: DialectPostgres,
		dialector: func() gorm.Dialector {
			return postgres.Open(fmt.Sprintf(
				"host=%v port=%v user=%v dbname=%v password=%v sslmode=disable",
				c.DBHost, c.DBPort, c.DBUserName, c.DBName, c.DBPassword))
		},
	}
}

// UseInMemory selects a private in-memory sqlite database and opens it.
func UseInMemory() (Store, error) {
	s := &gormStore{
		dialect: DialectSqlite,
		dialector: func() gorm.Dialector {
			return sqlite.Open(fmt.Sprintf("file:mem%d?mode=memory&cache=shared", time.Now().UnixNano()))
		},
	}
	if err := s.Open(); err != nil {
		return nil, err
	}
	instance = s
	return s, nil
}

// UseConfigured picks the store named by db.driver.
func UseConfigured() error {
	switch config.Configuration.DBDriver {
	case "", "sqlite":
		path := config.Configuration.DBPath
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return common.NewErrorf("db_open_error", "create db dir: %v", err)
		}
		UseSqlite(path)
	case "postgres":
		UsePostgres()
	default:
		return common.NewErrorf("db_open_error", "unknown db driver %q", config.Configuration.DBDriver)
	}
	return nil
}

func (store *gormStore) Open() error {
	db, err := gorm.Open(store.dialector(), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return common.NewErrorf("db_open_error", "Error opening the DB connection: %v", err)
	}

	sqldb, err := db.DB()
	if err != nil {
		return common.NewErrorf("db_open_error", "Error opening the DB connection: %v", err)
	}
	if err := sqldb.Ping(); err != nil {
		return common.NewErrorf("db_open_error", "Error opening the DB connection: %v", err)
	}

	if store.dialect == DialectSqlite {
		// one writer at a time; sqlite serializes anyway
		sqldb.SetMaxOpenConns(1)
	} else {
		sqldb.SetMaxIdleConns(10)
		sqldb.SetMaxOpenConns(20)
		sqldb.SetConnMaxLifetime(30 * time.Second)
	}

	store.db = db
	return nil
}

func (store *gormStore) Close() {
	if store.db != nil {
		if sqldb, _ := store.db.DB(); sqldb != nil {
			sqldb.Close()
		}
	}
}

func (store *gormStore) GetDB() *gorm.DB {
	return store.db
}

func (store *gormStore) AutoMigrate() error {
	if err := migrate(store.db, store.dialect); err != nil {
		logging.Logger.Error("[db] migration failed", zap.String("dialect", store.dialect), zap.Error(err))
		return err
	}
	return nil
}
