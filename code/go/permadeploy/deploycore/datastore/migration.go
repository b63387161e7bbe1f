package datastore

import (
	"embed"
	"fmt"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrations embed.FS

func migrate(db *gorm.DB, dialect string) error {
	sqldb, err := db.DB()
	if err != nil {
		return err
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.Up(sqldb, "migrations")
}

// gooseLogger routes goose output into the process logger.
type gooseLogger struct{}

func (gooseLogger) Fatal(v ...interface{}) {
	logging.Logger.Fatal(fmt.Sprint(v...))
}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	logging.Logger.Fatal(fmt.Sprintf(format, v...))
}

func (gooseLogger) Print(v ...interface{}) {
	logging.Logger.Debug(fmt.Sprint(v...))
}

func (gooseLogger) Println(v ...interface{}) {
	logging.Logger.Debug(fmt.Sprint(v...))
}

func (gooseLogger) Printf(format string, v ...interface{}) {
	logging.Logger.Debug(fmt.Sprintf(format, v...))
}
