package models

import (
	"strings"
	"time"
)

type Note struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	Content   *string   `json:"content"`
	UserID    int       `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Body returns the content or an empty string when the note has none.
func (n *Note) Body() string {
	if n.Content == nil {
		return ""
	}
	return *n.Content
}

// Preview returns the first line of the content, cut to limit runes.
func (n *Note) Preview(limit int) string {
	if limit < 0 {
		limit = 0
	}
	line, _, _ := strings.Cut(n.Body(), "\n")
	r := []rune(line)
	if len(r) <= limit {
		return line
	}
	return string(r[:limit]) + "..."
}

type CreateNoteRequest struct {
	Title   string  `json:"title"`
	Content *string `json:"content"`
}

type UpdateNoteRequest struct {
	Title   string  `json:"title"`
	Content *string `json:"content"`
}
