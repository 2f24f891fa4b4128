package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amirk1998/quicknotes/internal/audit"
	"github.com/amirk1998/quicknotes/internal/logging"
	"github.com/amirk1998/quicknotes/internal/models"
	"github.com/amirk1998/quicknotes/internal/ratelimit"
	apperrors "github.com/amirk1998/quicknotes/pkg/errors"
	"github.com/amirk1998/quicknotes/pkg/validator"
)

const notesResource = "notes"

// Identity supplies the signed-in user; session.Manager implements it.
type Identity interface {
	User() *models.User
}

// NoteStore is the notes repository surface the service needs.
type NoteStore interface {
	List(ctx context.Context, userID int) ([]*models.Note, error)
	GetByID(ctx context.Context, noteID, userID int) (*models.Note, error)
	Create(ctx context.Context, userID int, title string, content *string) (*models.Note, error)
	Update(ctx context.Context, noteID int, title string, content *string) error
	Delete(ctx context.Context, noteID int) error
}

type NoteService struct {
	identity    Identity
	notes       NoteStore
	validator   *validator.Validator
	rateLimiter *ratelimit.RateLimiter
	audit       audit.Recorder
	log         logging.Logger
}

// NewNoteService creates a new note service
func NewNoteService(
	identity Identity,
	notes NoteStore,
	rateLimiter *ratelimit.RateLimiter,
	auditLogger audit.Recorder,
	log logging.Logger,
) *NoteService {
	return &NoteService{
		identity:    identity,
		notes:       notes,
		validator:   validator.New(),
		rateLimiter: rateLimiter,
		audit:       auditLogger,
		log:         log,
	}
}

// begin resolves the current user and charges the per-user rate limit for op.
func (s *NoteService) begin(ctx context.Context, action, op string) (int, error) {
	user := s.identity.User()
	if user == nil {
		s.record(ctx, action, nil, notesResource, apperrors.ErrUnauthorized)
		return 0, apperrors.ErrUnauthorized
	}

	userID := user.ID
	if err := s.rateLimiter.CheckLimit(ratelimit.UserKey(userID, op)); err != nil {
		s.record(ctx, action, &userID, notesResource, err)
		return 0, err
	}

	return userID, nil
}

// List returns the signed-in user's notes, most recently updated first.
func (s *NoteService) List(ctx context.Context) ([]*models.Note, error) {
	userID, err := s.begin(ctx, audit.ActionNoteList, "list")
	if err != nil {
		return nil, err
	}

	notes, err := s.notes.List(ctx, userID)
	if err != nil {
		s.record(ctx, audit.ActionNoteList, &userID, notesResource, err)
		return nil, err
	}

	return notes, nil
}

// Search lists notes whose title contains query, ignoring case.
// A blank query matches every note.
func (s *NoteService) Search(ctx context.Context, query string) ([]*models.Note, error) {
	userID, err := s.begin(ctx, audit.ActionNoteSearch, "list")
	if err != nil {
		return nil, err
	}

	notes, err := s.notes.List(ctx, userID)
	if err != nil {
		s.record(ctx, audit.ActionNoteSearch, &userID, notesResource, err)
		return nil, err
	}

	return FilterByTitle(notes, query), nil
}

// FilterByTitle keeps notes whose title contains query, ignoring case.
func FilterByTitle(notes []*models.Note, query string) []*models.Note {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return notes
	}

	out := make([]*models.Note, 0, len(notes))
	for _, n := range notes {
		if strings.Contains(strings.ToLower(n.Title), query) {
			out = append(out, n)
		}
	}
	return out
}

// Get retrieves one of the signed-in user's notes.
func (s *NoteService) Get(ctx context.Context, noteID int) (*models.Note, error) {
	userID, err := s.begin(ctx, audit.ActionNoteView, "get")
	if err != nil {
		return nil, err
	}

	note, err := s.notes.GetByID(ctx, noteID, userID)
	if err != nil {
		s.record(ctx, audit.ActionNoteView, &userID, noteResource(noteID), err)
		return nil, err
	}

	return note, nil
}

// Create creates a new note
func (s *NoteService) Create(ctx context.Context, req *models.CreateNoteRequest) (*models.Note, error) {
	userID, err := s.begin(ctx, audit.ActionNoteCreate, "create")
	if err != nil {
		return nil, err
	}

	title, err := s.validate(req.Title, req.Content)
	if err != nil {
		s.record(ctx, audit.ActionNoteCreate, &userID, notesResource, err)
		return nil, err
	}

	note, err := s.notes.Create(ctx, userID, title, req.Content)
	if err != nil {
		s.log.Error(ctx, "failed to create note", "user_id", userID, "error", err)
		s.record(ctx, audit.ActionNoteCreate, &userID, notesResource, err)
		return nil, err
	}

	s.record(ctx, audit.ActionNoteCreate, &userID, noteResource(note.ID), nil)
	return note, nil
}

// Update replaces the title and content of one of the signed-in user's notes.
//
// Ownership is checked here with a read before the write; the repository
// update itself matches by id only.
func (s *NoteService) Update(ctx context.Context, noteID int, req *models.UpdateNoteRequest) error {
	userID, err := s.begin(ctx, audit.ActionNoteUpdate, "update")
	if err != nil {
		return err
	}

	title, err := s.validate(req.Title, req.Content)
	if err != nil {
		s.record(ctx, audit.ActionNoteUpdate, &userID, noteResource(noteID), err)
		return err
	}

	if _, err := s.notes.GetByID(ctx, noteID, userID); err != nil {
		s.record(ctx, audit.ActionNoteUpdate, &userID, noteResource(noteID), err)
		return err
	}

	if err := s.notes.Update(ctx, noteID, title, req.Content); err != nil {
		if !errors.Is(err, apperrors.ErrRecordNotFound) {
			s.log.Error(ctx, "failed to update note", "note_id", noteID, "error", err)
		}
		s.record(ctx, audit.ActionNoteUpdate, &userID, noteResource(noteID), err)
		return err
	}

	s.record(ctx, audit.ActionNoteUpdate, &userID, noteResource(noteID), nil)
	return nil
}

// Delete permanently removes one of the signed-in user's notes.
func (s *NoteService) Delete(ctx context.Context, noteID int) error {
	userID, err := s.begin(ctx, audit.ActionNoteDelete, "delete")
	if err != nil {
		return err
	}

	if _, err := s.notes.GetByID(ctx, noteID, userID); err != nil {
		s.record(ctx, audit.ActionNoteDelete, &userID, noteResource(noteID), err)
		return err
	}

	if err := s.notes.Delete(ctx, noteID); err != nil {
		if !errors.Is(err, apperrors.ErrRecordNotFound) {
			s.log.Error(ctx, "failed to delete note", "note_id", noteID, "error", err)
		}
		s.record(ctx, audit.ActionNoteDelete, &userID, noteResource(noteID), err)
		return err
	}

	s.record(ctx, audit.ActionNoteDelete, &userID, noteResource(noteID), nil)
	return nil
}

// validate returns the sanitized title.
func (s *NoteService) validate(title string, content *string) (string, error) {
	title = s.validator.SanitizeString(title)

	if err := s.validator.ValidateNoteTitle(title); err != nil {
		return "", err
	}
	if err := s.validator.ValidateNoteContent(content); err != nil {
		return "", err
	}
	return title, nil
}

func (s *NoteService) record(ctx context.Context, action string, userID *int, resource string, cause error) {
	event := &audit.Event{
		Level:    audit.LevelInfo,
		UserID:   userID,
		Action:   action,
		Resource: resource,
		Success:  cause == nil,
	}
	if cause != nil {
		event.Level = audit.LevelWarning
		event.ErrorMsg = cause.Error()
	}

	if err := s.audit.Log(ctx, event); err != nil {
		s.log.Warn(ctx, "failed to record audit event", "action", action, "error", err)
	}
}

func noteResource(id int) string {
	return fmt.Sprintf("note:%d", id)
}
