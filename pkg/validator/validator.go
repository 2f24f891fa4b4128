package validator

import (
	"strings"

	"github.com/amirk1998/quicknotes/pkg/errors"
)

const (
	maxTitleLength   = 255
	maxContentLength = 1 << 20 // 1MB
)

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// ValidateCredentials checks that both sign-in fields were filled in.
// Credentials are not otherwise restricted.
func (v *Validator) ValidateCredentials(email, password string) error {
	if email == "" || password == "" {
		return errors.NewAppError(errors.ErrInvalidInput, "please fill in all fields", 400)
	}
	return nil
}

// SanitizeString removes null bytes and surrounding whitespace
func (v *Validator) SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}

// ValidateNoteTitle validates note title
func (v *Validator) ValidateNoteTitle(title string) error {
	title = strings.TrimSpace(title)

	if len(title) == 0 {
		return errors.NewAppError(errors.ErrInvalidInput, "title is required", 400)
	}

	if len(title) > maxTitleLength {
		return errors.NewAppError(errors.ErrInvalidInput, "title too long (max 255 characters)", 400)
	}

	return nil
}

// ValidateNoteContent validates note content. Nil content is allowed.
func (v *Validator) ValidateNoteContent(content *string) error {
	if content != nil && len(*content) > maxContentLength {
		return errors.NewAppError(errors.ErrInvalidInput, "content too long (max 1MB)", 400)
	}

	return nil
}
