package database

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/openclaw/pairing-relay-go/internal/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know by name.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

type DB struct {
	*sqlx.DB
}

// Connect opens a pool for driver ("postgres" or "sqlite"). For sqlite the
// dsn is a file path.
func Connect(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverPostgres:
		db, err := sqlx.Connect(DriverPostgres, dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(config.DBMaxOpenConns)
		db.SetMaxIdleConns(config.DBMaxIdleConns)
		db.SetConnMaxLifetime(config.DBConnMaxLifetime)
		return &DB{db}, nil

	case DriverSQLite:
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		db, err := sqlx.Connect(DriverSQLite, sqliteDSN(dsn))
		if err != nil {
			return nil, err
		}
		// One writer; also keeps a ":memory:" database alive for the pool's lifetime.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return &DB{db}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func sqliteDSN(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// Migrate applies the embedded migrations with goose.
func (db *DB) Migrate(ctx context.Context) error {
	dialect := "postgres"
	if db.DriverName() == DriverSQLite {
		dialect = "sqlite3"
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db.DB.DB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	log.Fatal().Msgf(strings.TrimSpace(format), v...)
}

func (gooseLogger) Printf(format string, v ...interface{}) {
	log.Debug().Str("component", "goose").Msgf(strings.TrimSpace(format), v...)
}
