// Package backup snapshots the SQLite note store into encrypted, compressed
// files with checksum sidecars.
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/amirk1998/quicknotes/internal/audit"
	"github.com/amirk1998/quicknotes/internal/logging"
	"github.com/amirk1998/quicknotes/internal/security"
	"github.com/amirk1998/quicknotes/pkg/errors"
)

const (
	filePrefix   = "notes_"
	fileSuffix   = ".db.enc.gz"
	checksumExt  = ".sha256"
	timeLayout   = "20060102_150405.000000000"
	backupTarget = "backup"
)

type Manager struct {
	db            *sql.DB
	backupDir     string
	encryptor     *security.FieldEncryptor
	retentionDays int
	log           logging.Logger
	audit         audit.Recorder
	now           func() time.Time
}

// Info describes one backup file.
type Info struct {
	Path      string
	Size      int64
	CreatedAt time.Time
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithAudit(r audit.Recorder) Option {
	return func(m *Manager) { m.audit = r }
}

// NewManager creates a new backup manager
func NewManager(db *sql.DB, backupDir string, encryptor *security.FieldEncryptor, retentionDays int, log logging.Logger, opts ...Option) (*Manager, error) {
	// Ensure backup directory exists with secure permissions
	if err := os.MkdirAll(backupDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	m := &Manager{
		db:            db,
		backupDir:     backupDir,
		encryptor:     encryptor,
		retentionDays: retentionDays,
		log:           log,
		audit:         audit.Nop{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateBackup writes an encrypted snapshot and returns its path.
func (m *Manager) CreateBackup(ctx context.Context) (string, error) {
	path, err := m.createBackup(ctx)

	event := &audit.Event{Action: audit.ActionBackupCreate, Resource: backupTarget, Success: err == nil}
	if err != nil {
		event.Level = audit.LevelError
		event.ErrorMsg = err.Error()
	} else {
		event.Resource = filepath.Base(path)
	}
	if logErr := m.audit.Log(ctx, event); logErr != nil {
		m.log.Warn(ctx, "failed to record audit event", "action", event.Action, "error", logErr)
	}

	return path, err
}

func (m *Manager) createBackup(ctx context.Context) (string, error) {
	timestamp := m.now().UTC().Format(timeLayout)
	rawPath := filepath.Join(m.backupDir, filePrefix+timestamp+".db")
	encryptedPath := filepath.Join(m.backupDir, filePrefix+timestamp+fileSuffix)

	// The snapshot is still under the database key; it never outlives this call.
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, rawPath); err != nil {
		return "", fmt.Errorf("%w: snapshot: %v", errors.ErrBackupFailed, err)
	}
	defer os.Remove(rawPath)

	if err := m.encryptAndCompressFile(rawPath, encryptedPath); err != nil {
		os.Remove(encryptedPath)
		return "", fmt.Errorf("%w: %v", errors.ErrBackupFailed, err)
	}

	if err := m.createChecksumFile(encryptedPath); err != nil {
		os.Remove(encryptedPath)
		return "", fmt.Errorf("%w: checksum: %v", errors.ErrBackupFailed, err)
	}

	m.log.Info(ctx, "backup created", "path", encryptedPath)
	return encryptedPath, nil
}

// encryptAndCompressFile seals the file and writes it gzip-compressed
func (m *Manager) encryptAndCompressFile(srcPath, dstPath string) error {
	plaintext, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	ciphertext, err := m.encryptor.EncryptBytes(plaintext)
	if err != nil {
		return err
	}

	dstFile, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dstFile.Close()

	gzWriter := gzip.NewWriter(dstFile)
	if _, err := gzWriter.Write(ciphertext); err != nil {
		return fmt.Errorf("failed to write compressed data: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return fmt.Errorf("failed to flush compressed data: %w", err)
	}

	return dstFile.Sync()
}

func checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (m *Manager) createChecksumFile(filePath string) error {
	sum, err := checksum(filePath)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath+checksumExt, []byte(sum), 0600)
}

// VerifyBackup verifies backup integrity
func (m *Manager) VerifyBackup(backupPath string) error {
	stored, err := os.ReadFile(backupPath + checksumExt)
	if err != nil {
		return fmt.Errorf("failed to read checksum file: %w", err)
	}

	current, err := checksum(backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}

	if current != strings.TrimSpace(string(stored)) {
		return fmt.Errorf("%w: checksum mismatch, backup file may be corrupted", errors.ErrBackupFailed)
	}

	return nil
}

// Restore verifies a backup and writes the decrypted database file to dstPath.
// The result is a SQLCipher file readable with the database key it was taken under.
// An existing file at dstPath is never replaced.
func (m *Manager) Restore(backupPath, dstPath string) error {
	if _, err := os.Stat(dstPath); err == nil {
		return fmt.Errorf("%w: %s already exists", errors.ErrBackupFailed, dstPath)
	}

	if err := m.VerifyBackup(backupPath); err != nil {
		return err
	}

	f, err := os.Open(backupPath)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()

	gzReader, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrBackupFailed, err)
	}
	defer gzReader.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, gzReader); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrBackupFailed, err)
	}

	plaintext, err := m.encryptor.DecryptBytes(buf.Bytes())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0700); err != nil {
		return fmt.Errorf("failed to create restore directory: %w", err)
	}
	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create restore file: %w", err)
	}
	if _, err := out.Write(plaintext); err != nil {
		out.Close()
		return fmt.Errorf("failed to write restore file: %w", err)
	}
	return out.Close()
}

// ListBackups returns backups newest first.
func (m *Manager) ListBackups() ([]Info, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var out []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		ts := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		created, err := time.Parse(timeLayout, ts)
		if err != nil {
			created = info.ModTime()
		}

		out = append(out, Info{
			Path:      filepath.Join(m.backupDir, name),
			Size:      info.Size(),
			CreatedAt: created,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CleanOldBackups removes backups older than the retention period and
// returns how many were removed.
func (m *Manager) CleanOldBackups(ctx context.Context) (int, error) {
	cutoff := m.now().AddDate(0, 0, -m.retentionDays)

	backups, err := m.ListBackups()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, b := range backups {
		if !b.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(b.Path); err != nil {
			m.log.Warn(ctx, "failed to delete old backup", "path", b.Path, "error", err)
			continue
		}
		os.Remove(b.Path + checksumExt)
		deleted++
	}

	if deleted > 0 {
		m.log.Info(ctx, "old backups cleaned", "count", deleted)
	}

	return deleted, nil
}

// StartAutomatedBackups backs up and prunes every interval until ctx is done.
func (m *Manager) StartAutomatedBackups(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info(ctx, "automated backups started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			m.log.Info(context.Background(), "automated backups stopped")
			return
		case <-ticker.C:
			if _, err := m.CreateBackup(ctx); err != nil {
				m.log.Error(ctx, "scheduled backup failed", "error", err)
			}
			if _, err := m.CleanOldBackups(ctx); err != nil {
				m.log.Error(ctx, "backup cleanup failed", "error", err)
			}
		}
	}
}
