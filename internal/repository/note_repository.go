package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirk1998/quicknotes/internal/models"
	"github.com/amirk1998/quicknotes/internal/remote"
	apperrors "github.com/amirk1998/quicknotes/pkg/errors"
)

const notesTable = "notes"

type NoteRepository struct {
	client *remote.Client
	now    func() time.Time
}

type NoteOption func(*NoteRepository)

// WithClock replaces the clock used for created_at and updated_at.
func WithClock(now func() time.Time) NoteOption {
	return func(r *NoteRepository) { r.now = now }
}

// NewNoteRepository creates a new note repository
func NewNoteRepository(client *remote.Client, opts ...NoteOption) *NoteRepository {
	r := &NoteRepository{client: client, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// List returns the user's notes, most recently updated first.
func (r *NoteRepository) List(ctx context.Context, userID int) ([]*models.Note, error) {
	res := r.client.From(notesTable).
		Select("*").
		Eq("user_id", userID).
		Order("updated_at", false).
		Execute(ctx)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to list notes: %w", res.Error)
	}

	notes := []*models.Note{}
	if err := remote.DecodeAll(res.Data, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// GetByID retrieves a note by ID
func (r *NoteRepository) GetByID(ctx context.Context, noteID, userID int) (*models.Note, error) {
	res := r.client.From(notesTable).
		Select("*").
		Eq("id", noteID).
		Eq("user_id", userID).
		Single(ctx)

	if errors.Is(res.Error, remote.ErrNoRows) {
		return nil, apperrors.ErrRecordNotFound
	}
	if res.Error != nil {
		return nil, fmt.Errorf("failed to get note: %w", res.Error)
	}

	note := &models.Note{}
	if err := remote.Decode(res.Data, note); err != nil {
		return nil, err
	}
	return note, nil
}

// Create inserts a note owned by userID. Inputs are stored as given.
func (r *NoteRepository) Create(ctx context.Context, userID int, title string, content *string) (*models.Note, error) {
	now := r.now().UTC()

	res := r.client.From(notesTable).Insert(remote.Row{
		"title":      title,
		"content":    nullable(content),
		"user_id":    userID,
		"created_at": now,
		"updated_at": now,
	}).Execute(ctx)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to create note: %w", res.Error)
	}

	note := &models.Note{}
	if err := remote.Decode(res.Data, note); err != nil {
		return nil, err
	}
	return note, nil
}

// Update replaces title and content and refreshes updated_at.
// The note is matched by id alone.
func (r *NoteRepository) Update(ctx context.Context, noteID int, title string, content *string) error {
	res := r.client.From(notesTable).Update(remote.Row{
		"title":      title,
		"content":    nullable(content),
		"updated_at": r.now().UTC(),
	}).Eq("id", noteID).Execute(ctx)
	if res.Error != nil {
		return fmt.Errorf("failed to update note: %w", res.Error)
	}

	if res.Count == 0 {
		return apperrors.ErrRecordNotFound
	}

	return nil
}

// Delete permanently removes a note, matched by id alone.
func (r *NoteRepository) Delete(ctx context.Context, noteID int) error {
	res := r.client.From(notesTable).Delete().Eq("id", noteID).Execute(ctx)
	if res.Error != nil {
		return fmt.Errorf("failed to delete note: %w", res.Error)
	}

	if res.Count == 0 {
		return apperrors.ErrRecordNotFound
	}

	return nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
