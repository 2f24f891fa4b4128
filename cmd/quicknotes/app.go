package main

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/amirk1998/quicknotes/internal/audit"
	"github.com/amirk1998/quicknotes/internal/backup"
	"github.com/amirk1998/quicknotes/internal/config"
	"github.com/amirk1998/quicknotes/internal/database"
	"github.com/amirk1998/quicknotes/internal/logging"
	"github.com/amirk1998/quicknotes/internal/ratelimit"
	"github.com/amirk1998/quicknotes/internal/remote"
	"github.com/amirk1998/quicknotes/internal/repository"
	"github.com/amirk1998/quicknotes/internal/security"
	"github.com/amirk1998/quicknotes/internal/service"
	"github.com/amirk1998/quicknotes/internal/session"
	"github.com/amirk1998/quicknotes/internal/storage"
)

type Application struct {
	config       *config.Config
	log          logging.Logger
	notesDB      *sql.DB
	localDB      *sql.DB
	session      *session.Manager
	noteService  *service.NoteService
	auditLogger  *audit.Logger
	auditMonitor *audit.Monitor
	backupMgr    *backup.Manager
	rateLimiter  *ratelimit.RateLimiter
}

// newApplication connects both stores, runs migrations and wires every component.
func newApplication(ctx context.Context, cfg *config.Config, log logging.Logger) (_ *Application, err error) {
	app := &Application{config: cfg, log: log}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	keys, err := security.NewKeyManager(cfg.DBEncryptionKey, cfg.BackupEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key manager: %w", err)
	}

	dbConfig := database.Config{
		Key:          keys.SQLCipherKey(),
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		MaxLifetime:  1 * time.Hour,
		MaxIdleTime:  10 * time.Minute,
	}

	var exec *remote.SQLExecutor
	switch cfg.RemoteDriver {
	case config.DriverPostgres:
		app.notesDB, err = database.ConnectPostgres(ctx, cfg.RemoteDSN, dbConfig)
		if err != nil {
			return nil, fmt.Errorf("note store connection failed: %w", err)
		}
		if err := database.Migrate(ctx, app.notesDB, database.SchemaNotesPostgres); err != nil {
			return nil, fmt.Errorf("note store migration failed: %w", err)
		}
		exec = remote.NewSQLExecutor(app.notesDB, remote.DialectPostgres)
	default:
		notesConfig := dbConfig
		notesConfig.Path = cfg.RemoteDBPath
		app.notesDB, err = database.Connect(notesConfig)
		if err != nil {
			return nil, fmt.Errorf("note store connection failed: %w", err)
		}
		if err := database.Migrate(ctx, app.notesDB, database.SchemaNotesSQLite); err != nil {
			return nil, fmt.Errorf("note store migration failed: %w", err)
		}
		exec = remote.NewSQLExecutor(app.notesDB, remote.DialectSQLite)
	}

	if cfg.RemoteDriver == config.DriverSQLite && samePath(cfg.RemoteDBPath, cfg.LocalDBPath) {
		app.localDB = app.notesDB
	} else {
		localConfig := dbConfig
		localConfig.Path = cfg.LocalDBPath
		app.localDB, err = database.Connect(localConfig)
		if err != nil {
			return nil, fmt.Errorf("local store connection failed: %w", err)
		}
	}
	if err := database.Migrate(ctx, app.localDB, database.SchemaLocal); err != nil {
		return nil, fmt.Errorf("local store migration failed: %w", err)
	}

	app.auditLogger, err = audit.NewLogger(app.localDB, cfg.AuditLogPath, cfg.AuditAsyncMode, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	app.auditMonitor = audit.NewMonitor(app.auditLogger, log)

	app.rateLimiter = ratelimit.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	client := remote.NewClient(exec)
	userRepo := repository.NewUserRepository(client)
	noteRepo := repository.NewNoteRepository(client)

	app.session = session.NewManager(userRepo, storage.NewSQLiteStorage(app.localDB),
		session.WithAudit(app.auditLogger),
		session.WithLogger(log),
		session.WithSignUpLimiter(app.rateLimiter),
	)
	app.noteService = service.NewNoteService(app.session, noteRepo, app.rateLimiter, app.auditLogger, log)

	if cfg.BackupsEnabled() {
		enc, err := security.NewFieldEncryptor(keys.BackupKey())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize backup encryptor: %w", err)
		}
		app.backupMgr, err = backup.NewManager(app.notesDB, cfg.BackupDir, enc, cfg.BackupRetentionDays, log,
			backup.WithAudit(app.auditLogger))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize backup manager: %w", err)
		}
	}

	return app, nil
}

// startWorkers runs the background jobs until ctx is done.
func (app *Application) startWorkers(ctx context.Context) {
	if app.backupMgr != nil {
		go app.backupMgr.StartAutomatedBackups(ctx, app.config.BackupInterval)
	}
	go app.rateLimiter.StartCleanupWorker(ctx, 1*time.Hour)
	go app.auditMonitor.Run(ctx, 5*time.Minute)
	go app.watchSession(ctx)
}

// watchSession logs every identity change.
func (app *Application) watchSession(ctx context.Context) {
	updates, unsubscribe := app.session.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if snap.User != nil {
				app.log.Debug(ctx, "session changed", "state", "logged_in", "user_id", snap.User.ID)
			} else {
				app.log.Debug(ctx, "session changed", "state", "logged_out", "initializing", snap.Initializing)
			}
		}
	}
}

// Close releases everything newApplication opened.
func (app *Application) Close() {
	if app.auditLogger != nil {
		if err := app.auditLogger.Close(); err != nil {
			app.log.Error(context.Background(), "failed to close audit logger", "error", err)
		}
	}

	if app.localDB != nil && app.localDB != app.notesDB {
		app.localDB.Close()
	}

	if app.notesDB != nil {
		app.notesDB.Close()
	}
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
