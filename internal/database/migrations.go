package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrations embed.FS

// Schema names one embedded migration set.
type Schema struct {
	Dir     string
	Dialect string
	// Table is the goose version table, distinct per schema so the local
	// store and a SQLite note store may share one file.
	Table string
}

var (
	SchemaNotesSQLite   = Schema{Dir: "migrations/sqlite", Dialect: "sqlite3", Table: "goose_notes_version"}
	SchemaNotesPostgres = Schema{Dir: "migrations/postgres", Dialect: "postgres", Table: "goose_notes_version"}
	SchemaLocal         = Schema{Dir: "migrations/local", Dialect: "sqlite3", Table: "goose_local_version"}
)

// goose keeps its settings in package globals.
var gooseMu sync.Mutex

// Migrate applies all pending migrations of schema to db
func Migrate(ctx context.Context, db *sql.DB, schema Schema) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	goose.SetTableName(schema.Table)

	if err := goose.SetDialect(schema.Dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, schema.Dir); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", schema.Dir, err)
	}

	return nil
}
