package session

import (
	"context"
	"errors"
	"sync"

	"github.com/amirk1998/quicknotes/internal/audit"
	"github.com/amirk1998/quicknotes/internal/models"
	"github.com/amirk1998/quicknotes/internal/remote"
)

var errStorage = errors.New("storage unavailable")

type memStorage struct {
	mu         sync.Mutex
	items      map[string]string
	failGet    bool
	failSet    bool
	failRemove bool
	gets       int

	// When set, GetItem signals read and then blocks on release before returning.
	read    chan struct{}
	release chan struct{}
}

func newMemStorage() *memStorage {
	return &memStorage{items: make(map[string]string)}
}

func (s *memStorage) GetItem(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	s.gets++
	if s.failGet {
		s.mu.Unlock()
		return "", false, errStorage
	}
	v, ok := s.items[key]
	read, release := s.read, s.release
	s.mu.Unlock()

	if read != nil {
		close(read)
		<-release
	}
	return v, ok, nil
}

func (s *memStorage) SetItem(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet {
		return errStorage
	}
	s.items[key] = value
	return nil
}

func (s *memStorage) RemoveItem(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRemove {
		return errStorage
	}
	delete(s.items, key)
	return nil
}

func (s *memStorage) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok
}

// stubUsers is a UserStore with canned answers.
type stubUsers struct {
	user      *models.User
	findErr   error
	exists    bool
	existsErr error
	createErr error
	created   int
}

func (s *stubUsers) FindByCredentials(context.Context, string, string) (*models.User, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.user, nil
}

func (s *stubUsers) ExistsByEmail(context.Context, string) (bool, error) {
	return s.exists, s.existsErr
}

func (s *stubUsers) Create(_ context.Context, email, _ string) (*models.User, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created++
	return &models.User{ID: s.created, Email: email}, nil
}

// rowsExecutor answers every select with the same rows.
type rowsExecutor struct {
	rows []remote.Row
	err  error
}

func (e *rowsExecutor) Select(context.Context, remote.SelectRequest) ([]remote.Row, error) {
	return e.rows, e.err
}

func (e *rowsExecutor) Insert(context.Context, string, remote.Row) (remote.Row, error) {
	return nil, e.err
}

func (e *rowsExecutor) Update(context.Context, string, remote.Row, []remote.Filter) (int64, error) {
	return 0, e.err
}

func (e *rowsExecutor) Delete(context.Context, string, []remote.Filter) (int64, error) {
	return 0, e.err
}

type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) Log(_ context.Context, e *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

func (r *recorder) all() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}
