package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

// Driver names usable with sql.Open.
const (
	DriverSQLCipher = "sqlcipher_secure"
	DriverPgx       = "pgx"
)

// connectPragmas run on every new pooled connection. secure_delete is set
// through the DSN instead.
var connectPragmas = []string{
	"PRAGMA temp_store = MEMORY",
}

func init() {
	sql.Register(DriverSQLCipher, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			for _, pragma := range connectPragmas {
				if _, err := conn.Exec(pragma, nil); err != nil {
					return fmt.Errorf("failed to execute %s: %w", pragma, err)
				}
			}
			return nil
		},
	})
}

type Config struct {
	Path string
	// Key is the hex encoded 32-byte raw SQLCipher key.
	Key          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	MaxIdleTime  time.Duration
}

// Connect opens an encrypted SQLite database, creating it if needed
func Connect(cfg Config) (*sql.DB, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("database key is required")
	}

	// Ensure data directory exists with secure permissions
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON&_secure_delete=on",
		cfg.Path,
		cfg.Key,
	)

	db, err := sql.Open(DriverSQLCipher, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	configurePool(db, cfg)

	// Verify connection and key. A wrong key fails on the first read.
	if err := verifyKey(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	if err := os.Chmod(cfg.Path, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set file permissions: %w", err)
	}

	return db, nil
}

// ConnectPostgres opens a pooled Postgres connection through the pgx stdlib driver
func ConnectPostgres(ctx context.Context, dsn string, cfg Config) (*sql.DB, error) {
	db, err := sql.Open(DriverPgx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	configurePool(db, cfg)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	return db, nil
}

func configurePool(db *sql.DB, cfg Config) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)
}

func verifyKey(db *sql.DB) error {
	var n int
	return db.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&n)
}
