package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/amirk1998/quicknotes/internal/audit"
	"github.com/amirk1998/quicknotes/internal/backup"
	"github.com/amirk1998/quicknotes/internal/models"
	apperrors "github.com/amirk1998/quicknotes/pkg/errors"
	"github.com/amirk1998/quicknotes/pkg/validator"
)

const timeFormat = "2006-01-02 15:04:05"

// shell is the interactive front end. It only calls the session manager,
// the note service, and the audit and backup components.
type shell struct {
	app          *Application
	validator    *validator.Validator
	in           *bufio.Scanner
	out          io.Writer
	readPassword func() (string, error)
}

func newShell(app *Application, in io.Reader, out io.Writer) *shell {
	sh := &shell{
		app:       app,
		validator: validator.New(),
		in:        bufio.NewScanner(in),
		out:       out,
	}
	sh.readPassword = sh.readLine
	return sh
}

var errExit = errors.New("exit")

func (sh *shell) printf(format string, args ...any) {
	fmt.Fprintf(sh.out, format, args...)
}

func (sh *shell) println(args ...any) {
	fmt.Fprintln(sh.out, args...)
}

func (sh *shell) readLine() (string, error) {
	if !sh.in.Scan() {
		if err := sh.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(sh.in.Text()), nil
}

func (sh *shell) prompt(label string) (string, error) {
	sh.printf("%s: ", label)
	return sh.readLine()
}

func (sh *shell) promptPassword() (string, error) {
	sh.printf("Password: ")
	return sh.readPassword()
}

// run draws the menu for the current identity until the user exits, input
// ends, or ctx is cancelled.
func (sh *shell) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		user := sh.app.session.User()
		if user == nil {
			sh.showAuthMenu()
		} else {
			sh.showMainMenu(user)
		}

		choice, err := sh.prompt("\nSelect option")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		sh.println()

		if user == nil {
			err = sh.handleAuthChoice(ctx, choice)
		} else {
			err = sh.handleMainChoice(ctx, choice)
		}

		switch {
		case errors.Is(err, errExit):
			sh.println("Goodbye!")
			return nil
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}
	}
}

func (sh *shell) showAuthMenu() {
	sh.println("\n--- Welcome ---")
	sh.println("1. Sign in")
	sh.println("2. Sign up")
	sh.println("3. Exit")
}

func (sh *shell) showMainMenu(user *models.User) {
	sh.printf("\n--- Notes (%s) ---\n", user.Email)
	sh.println("1. List notes")
	sh.println("2. Search notes")
	sh.println("3. View note")
	sh.println("4. Create note")
	sh.println("5. Edit note")
	sh.println("6. Delete note")
	sh.println("7. Backups")
	sh.println("8. View audit log")
	sh.println("9. Sign out")
	sh.println("0. Exit")
}

func (sh *shell) handleAuthChoice(ctx context.Context, choice string) error {
	switch choice {
	case "1":
		return sh.handleSignIn(ctx)
	case "2":
		return sh.handleSignUp(ctx)
	case "3":
		return errExit
	default:
		sh.println("Invalid option")
		return nil
	}
}

func (sh *shell) handleMainChoice(ctx context.Context, choice string) error {
	switch choice {
	case "1":
		sh.handleListNotes(ctx)
		return nil
	case "2":
		return sh.handleSearchNotes(ctx)
	case "3":
		return sh.handleViewNote(ctx)
	case "4":
		return sh.handleCreateNote(ctx)
	case "5":
		return sh.handleEditNote(ctx)
	case "6":
		return sh.handleDeleteNote(ctx)
	case "7":
		return sh.handleBackups(ctx)
	case "8":
		sh.handleViewAuditLog(ctx)
		return nil
	case "9":
		sh.app.session.SignOut(ctx)
		sh.println("Signed out")
		return nil
	case "0":
		return errExit
	default:
		sh.println("Invalid option")
		return nil
	}
}

func (sh *shell) readCredentials() (string, string, error) {
	email, err := sh.prompt("Email")
	if err != nil {
		return "", "", err
	}
	password, err := sh.promptPassword()
	if err != nil {
		return "", "", err
	}
	return email, password, nil
}

func (sh *shell) handleSignIn(ctx context.Context) error {
	sh.println("=== Sign In ===")

	email, password, err := sh.readCredentials()
	if err != nil {
		return err
	}

	if err := sh.validator.ValidateCredentials(email, password); err != nil {
		sh.printf("Error: %v\n", err)
		return nil
	}

	user, err := sh.app.session.SignIn(ctx, email, password)
	if err != nil {
		sh.printf("Sign in failed: %v\n", err)
		return nil
	}

	sh.printf("Welcome, %s\n", user.Email)
	return nil
}

func (sh *shell) handleSignUp(ctx context.Context) error {
	sh.println("=== Sign Up ===")

	email, password, err := sh.readCredentials()
	if err != nil {
		return err
	}

	if err := sh.validator.ValidateCredentials(email, password); err != nil {
		sh.printf("Error: %v\n", err)
		return nil
	}

	if err := sh.app.session.SignUp(ctx, email, password); err != nil {
		sh.printf("Sign up failed: %v\n", err)
		return nil
	}

	sh.println("Account created. Please sign in.")
	return nil
}

func (sh *shell) printNotes(notes []*models.Note) {
	if len(notes) == 0 {
		sh.println("No notes found")
		return
	}

	for _, note := range notes {
		sh.printf("\n[ID: %d] %s\n", note.ID, note.Title)
		sh.printf("Updated: %s\n", note.UpdatedAt.Local().Format(timeFormat))
		if preview := note.Preview(100); preview != "" {
			sh.printf("%s\n", preview)
		}
		sh.println("---")
	}
}

func (sh *shell) handleListNotes(ctx context.Context) {
	notes, err := sh.app.noteService.List(ctx)
	if err != nil {
		sh.printf("Failed to list notes: %v\n", err)
		return
	}

	sh.println("=== Your Notes ===")
	sh.printNotes(notes)
}

func (sh *shell) handleSearchNotes(ctx context.Context) error {
	query, err := sh.prompt("Search titles")
	if err != nil {
		return err
	}

	notes, err := sh.app.noteService.Search(ctx, query)
	if err != nil {
		sh.printf("Search failed: %v\n", err)
		return nil
	}

	sh.printf("=== %d matching note(s) ===\n", len(notes))
	sh.printNotes(notes)
	return nil
}

// promptNoteID returns ok=false after telling the user the id was invalid.
func (sh *shell) promptNoteID() (int, bool, error) {
	raw, err := sh.prompt("Enter Note ID")
	if err != nil {
		return 0, false, err
	}

	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		sh.println("Invalid note ID")
		return 0, false, nil
	}
	return id, true, nil
}

func (sh *shell) handleViewNote(ctx context.Context) error {
	id, ok, err := sh.promptNoteID()
	if err != nil || !ok {
		return err
	}

	note, err := sh.app.noteService.Get(ctx, id)
	if err != nil {
		sh.printf("Failed to get note: %v\n", err)
		return nil
	}

	sh.println("\n=== Note ===")
	sh.printf("ID: %d\n", note.ID)
	sh.printf("Title: %s\n", note.Title)
	sh.printf("Created: %s\n", note.CreatedAt.Local().Format(timeFormat))
	sh.printf("Updated: %s\n", note.UpdatedAt.Local().Format(timeFormat))
	sh.printf("\n%s\n", note.Body())
	return nil
}

// optionalContent maps an empty line to a note without content.
func optionalContent(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (sh *shell) handleCreateNote(ctx context.Context) error {
	sh.println("=== New Note ===")

	title, err := sh.prompt("Title")
	if err != nil {
		return err
	}
	content, err := sh.prompt("Content (optional)")
	if err != nil {
		return err
	}

	note, err := sh.app.noteService.Create(ctx, &models.CreateNoteRequest{
		Title:   title,
		Content: optionalContent(content),
	})
	if err != nil {
		sh.printf("Failed to create note: %v\n", err)
		return nil
	}

	sh.printf("Note created (ID: %d)\n", note.ID)
	return nil
}

func (sh *shell) handleEditNote(ctx context.Context) error {
	id, ok, err := sh.promptNoteID()
	if err != nil || !ok {
		return err
	}

	note, err := sh.app.noteService.Get(ctx, id)
	if err != nil {
		sh.printf("Failed to get note: %v\n", err)
		return nil
	}

	title, err := sh.prompt(fmt.Sprintf("Title [%s]", note.Title))
	if err != nil {
		return err
	}
	if title == "" {
		title = note.Title
	}

	content, err := sh.prompt("Content (Enter keeps current)")
	if err != nil {
		return err
	}
	newContent := note.Content
	if content != "" {
		newContent = &content
	}

	if err := sh.app.noteService.Update(ctx, id, &models.UpdateNoteRequest{Title: title, Content: newContent}); err != nil {
		sh.printf("Failed to update note: %v\n", err)
		return nil
	}

	sh.println("Note updated")
	return nil
}

func (sh *shell) handleDeleteNote(ctx context.Context) error {
	id, ok, err := sh.promptNoteID()
	if err != nil || !ok {
		return err
	}

	confirm, err := sh.prompt("Are you sure? (yes/no)")
	if err != nil {
		return err
	}
	if strings.ToLower(confirm) != "yes" {
		sh.println("Cancelled")
		return nil
	}

	if err := sh.app.noteService.Delete(ctx, id); err != nil {
		if errors.Is(err, apperrors.ErrRecordNotFound) {
			sh.println("Note not found")
			return nil
		}
		sh.printf("Failed to delete note: %v\n", err)
		return nil
	}

	sh.println("Note deleted")
	return nil
}

func (sh *shell) handleBackups(ctx context.Context) error {
	if sh.app.backupMgr == nil {
		sh.println("Backups are disabled (SQLite note store and BACKUP_ENCRYPTION_KEY required)")
		return nil
	}

	sh.println("=== Backups ===")
	sh.println("1. Create backup")
	sh.println("2. List backups")
	sh.println("3. Restore backup to file")
	sh.println("0. Back")

	choice, err := sh.prompt("Select option")
	if err != nil {
		return err
	}

	switch choice {
	case "1":
		sh.handleCreateBackup(ctx)
	case "2":
		sh.handleListBackups()
	case "3":
		return sh.handleRestoreBackup()
	case "0":
	default:
		sh.println("Invalid option")
	}
	return nil
}

func (sh *shell) handleCreateBackup(ctx context.Context) {
	sh.println("Creating encrypted backup...")

	path, err := sh.app.backupMgr.CreateBackup(ctx)
	if err != nil {
		sh.printf("Backup failed: %v\n", err)
		return
	}
	sh.printf("Backup created: %s\n", path)

	if err := sh.app.backupMgr.VerifyBackup(path); err != nil {
		sh.printf("Warning: backup verification failed: %v\n", err)
		return
	}
	sh.println("Backup verified")
}

// listBackups prints backups newest first, numbered from 1.
func (sh *shell) listBackups() []backup.Info {
	backups, err := sh.app.backupMgr.ListBackups()
	if err != nil {
		sh.printf("Failed to list backups: %v\n", err)
		return nil
	}
	if len(backups) == 0 {
		sh.println("No backups found")
		return nil
	}

	for i, b := range backups {
		sh.printf("%d. %s  %s  %d bytes\n", i+1,
			b.CreatedAt.Local().Format(timeFormat), filepath.Base(b.Path), b.Size)
	}
	return backups
}

func (sh *shell) handleListBackups() {
	sh.listBackups()
}

// handleRestoreBackup decrypts a backup into a new database file. The live
// note store is never overwritten.
func (sh *shell) handleRestoreBackup() error {
	backups := sh.listBackups()
	if len(backups) == 0 {
		return nil
	}

	raw, err := sh.prompt("Backup number")
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > len(backups) {
		sh.println("Invalid backup number")
		return nil
	}

	dst, err := sh.prompt("Restore to path")
	if err != nil {
		return err
	}
	if dst == "" {
		sh.println("Cancelled")
		return nil
	}

	if err := sh.app.backupMgr.Restore(backups[n-1].Path, dst); err != nil {
		sh.printf("Restore failed: %v\n", err)
		return nil
	}
	sh.printf("Backup restored to %s\n", dst)
	return nil
}

func (sh *shell) handleViewAuditLog(ctx context.Context) {
	user := sh.app.session.User()
	if user == nil {
		return
	}

	events, err := sh.app.auditLogger.QueryLogs(ctx, audit.QueryFilters{
		UserID: &user.ID,
		Limit:  20,
	})
	if err != nil {
		sh.printf("Failed to query audit log: %v\n", err)
		return
	}

	sh.println("=== Recent Activity ===")
	if len(events) == 0 {
		sh.println("No audit events found")
		return
	}

	for _, event := range events {
		status := "ok"
		if !event.Success {
			status = "failed"
		}
		sh.printf("[%s] %-8s %-12s %s (%s)\n",
			event.Timestamp.Local().Format(timeFormat),
			event.Level,
			event.Action,
			event.Resource,
			status,
		)
		if event.ErrorMsg != "" {
			sh.printf("    %s\n", event.ErrorMsg)
		}
	}
}
