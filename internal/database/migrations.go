package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/pressly/goose/v3"

	"github.com/amirk1998/login-gatekeeper/internal/logging"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// setGooseLogger is a seam for testing goose.SetLogger.
var setGooseLogger = goose.SetLogger

// migrationTarget returns the goose dialect and embedded directory for a driver.
func migrationTarget(driver string) (dialect, dir string, err error) {
	switch driver {
	case DriverSQLCipher:
		return "sqlite3", "migrations/sqlite", nil
	case DriverPostgres:
		return "postgres", "migrations/postgres", nil
	default:
		return "", "", fmt.Errorf("no migrations for driver %q", driver)
	}
}

// gooseLogger routes goose output through the structured logger.
type gooseLogger struct {
	log  logging.Logger
	exit func(int)
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.log.Info(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.log.Error(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
	g.exit(1)
}

// Migrate applies the embedded schema migrations for driver. A nil log
// discards goose output.
func Migrate(ctx context.Context, db *sql.DB, driver string, log logging.Logger) error {
	dialect, dir, err := migrationTarget(driver)
	if err != nil {
		return err
	}

	if log == nil {
		log = logging.Discard()
	}
	setGooseLogger(gooseLogger{log: log.With("component", "migrations"), exit: os.Exit})
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if err := gooseUpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
