package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirk1998/quicknotes/internal/models"
	"github.com/amirk1998/quicknotes/internal/remote"
	apperrors "github.com/amirk1998/quicknotes/pkg/errors"
)

const usersTable = "users"

type UserRepository struct {
	client *remote.Client
}

// NewUserRepository creates a new user repository
func NewUserRepository(client *remote.Client) *UserRepository {
	return &UserRepository{client: client}
}

// FindByCredentials returns the single user whose email and password both match.
// Zero matches yield ErrRecordNotFound; any other failure, including several
// matches, is returned wrapped.
func (r *UserRepository) FindByCredentials(ctx context.Context, email, password string) (*models.User, error) {
	res := r.client.From(usersTable).
		Select("id", "email").
		Eq("email", email).
		Eq("password", password).
		Single(ctx)

	if errors.Is(res.Error, remote.ErrNoRows) {
		return nil, apperrors.ErrRecordNotFound
	}
	if res.Error != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", res.Error)
	}

	user := &models.User{}
	if err := remote.Decode(res.Data, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ExistsByEmail reports whether at least one user is registered under email.
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	res := r.client.From(usersTable).Select("id").Eq("email", email).Single(ctx)

	switch {
	case errors.Is(res.Error, remote.ErrNoRows):
		return false, nil
	case errors.Is(res.Error, remote.ErrMultipleRows):
		return true, nil
	case res.Error != nil:
		return false, fmt.Errorf("failed to check email: %w", res.Error)
	}
	return true, nil
}

// Create stores a new credential record. The password is stored as given.
func (r *UserRepository) Create(ctx context.Context, email, password string) (*models.User, error) {
	res := r.client.From(usersTable).Insert(remote.Row{
		"email":    email,
		"password": password,
	}).Execute(ctx)
	if res.Error != nil {
		return nil, res.Error
	}

	user := &models.User{}
	if err := remote.Decode(res.Data, user); err != nil {
		return nil, err
	}
	return user, nil
}
