// Package session owns the signed-in identity of the running application.
//
// A Manager is created once at startup, restored with Initialize, and then
// driven by SignIn, SignUp and SignOut. Presentation code reads the identity
// with User or follows it with Subscribe.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/amirk1998/quicknotes/internal/audit"
	"github.com/amirk1998/quicknotes/internal/logging"
	"github.com/amirk1998/quicknotes/internal/models"
	"github.com/amirk1998/quicknotes/internal/ratelimit"
	"github.com/amirk1998/quicknotes/internal/storage"
	apperrors "github.com/amirk1998/quicknotes/pkg/errors"
)

// StorageKey is the durable storage key holding the persisted identity.
const StorageKey = "user_data"

const authResource = "authentication"

// UserStore queries credential records.
type UserStore interface {
	// FindByCredentials returns apperrors.ErrRecordNotFound when nothing matches.
	FindByCredentials(ctx context.Context, email, password string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, email, password string) (*models.User, error)
}

type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateLoggedOut
	StateLoggedIn
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateLoggedOut:
		return "logged_out"
	case StateLoggedIn:
		return "logged_in"
	default:
		return "uninitialized"
	}
}

// Snapshot is the observable session state. User is nil when logged out.
type Snapshot struct {
	User         *models.User
	Initializing bool
}

type Manager struct {
	users     UserStore
	storage   storage.Storage
	audit     audit.Recorder
	limiter   *ratelimit.RateLimiter
	log       logging.Logger
	sessionID string

	initOnce sync.Once

	mu           sync.RWMutex
	user         *models.User
	version      uint64 // bumped by every SignIn and SignOut
	started      bool
	initializing bool

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

type Option func(*Manager)

func WithAudit(r audit.Recorder) Option {
	return func(m *Manager) { m.audit = r }
}

func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithSignUpLimiter throttles sign-up attempts per email.
func WithSignUpLimiter(rl *ratelimit.RateLimiter) Option {
	return func(m *Manager) { m.limiter = rl }
}

// NewManager creates a manager in the initializing state with no user.
func NewManager(users UserStore, store storage.Storage, opts ...Option) *Manager {
	m := &Manager{
		users:        users,
		storage:      store,
		audit:        audit.Nop{},
		log:          logging.Nop{},
		sessionID:    uuid.NewString(),
		initializing: true,
		subs:         make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("session_id", m.sessionID)
	return m
}

// SessionID identifies this process's session in logs and audit metadata.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// Initialize restores a persisted identity. It runs once; concurrent and later
// callers wait for that run. Storage and decoding failures leave the manager
// logged out and are only logged.
func (m *Manager) Initialize(ctx context.Context) {
	m.initOnce.Do(func() {
		m.mu.Lock()
		m.started = true
		seen := m.version
		m.mu.Unlock()
		m.publish()

		restored := m.restore(ctx)

		// A sign-in or sign-out that finished during the read wins over the
		// record read from storage.
		m.mu.Lock()
		if restored != nil && m.user == nil && m.version == seen {
			m.user = restored
		}
		m.initializing = false
		m.mu.Unlock()
		m.publish()
	})
}

func (m *Manager) restore(ctx context.Context) *models.User {
	raw, ok, err := m.storage.GetItem(ctx, StorageKey)
	if err != nil {
		m.log.Error(ctx, "failed to read persisted session", "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	var user *models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		m.log.Error(ctx, "failed to decode persisted session", "error", err)
		return nil
	}
	if user == nil {
		return nil
	}
	if user.ID == 0 || user.Email == "" {
		m.log.Error(ctx, "persisted session is incomplete", "user_id", user.ID)
		return nil
	}
	m.log.Info(ctx, "session restored", "user_id", user.ID)
	return user
}

// SignIn looks up a user by exact email and password. On success the user
// becomes current and is persisted; a persistence failure is logged and does
// not fail the sign-in. On failure the current user is left untouched.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	found, err := m.users.FindByCredentials(ctx, email, password)
	if err != nil {
		if errors.Is(err, apperrors.ErrRecordNotFound) {
			m.record(ctx, audit.ActionSignIn, email, nil, apperrors.ErrUserNotFound)
			return nil, apperrors.ErrUserNotFound
		}
		m.log.Warn(ctx, "sign-in query failed", "error", err)
		m.record(ctx, audit.ActionSignIn, email, nil, apperrors.ErrInvalidCredentials)
		return nil, apperrors.ErrInvalidCredentials
	}

	user := &models.User{ID: found.ID, Email: found.Email}
	m.setUser(user)
	m.persist(ctx, user)

	m.log.Info(ctx, "signed in", "user_id", user.ID)
	m.record(ctx, audit.ActionSignIn, email, &user.ID, nil)

	out := *user
	return &out, nil
}

// SignUp registers a credential record without signing in.
//
// The existence check and the insert are two separate requests, so two
// concurrent sign-ups for one email can both pass the check; the backend
// unique constraint then rejects one of them with a generic error.
func (m *Manager) SignUp(ctx context.Context, email, password string) error {
	if m.limiter != nil {
		if err := m.limiter.CheckLimit(ratelimit.SubjectKey(email, "sign_up")); err != nil {
			m.record(ctx, audit.ActionSignUp, email, nil, err)
			return err
		}
	}

	exists, err := m.users.ExistsByEmail(ctx, email)
	if err != nil {
		m.log.Warn(ctx, "sign-up existence check failed", "error", err)
		appErr := apperrors.Other(err.Error())
		m.record(ctx, audit.ActionSignUp, email, nil, appErr)
		return appErr
	}
	if exists {
		m.record(ctx, audit.ActionSignUp, email, nil, apperrors.ErrUserAlreadyExists)
		return apperrors.ErrUserAlreadyExists
	}

	created, err := m.users.Create(ctx, email, password)
	if err != nil {
		m.log.Warn(ctx, "sign-up insert failed", "error", err)
		appErr := apperrors.Other(err.Error())
		m.record(ctx, audit.ActionSignUp, email, nil, appErr)
		return appErr
	}

	m.log.Info(ctx, "signed up", "user_id", created.ID)
	m.record(ctx, audit.ActionSignUp, email, &created.ID, nil)
	return nil
}

// SignOut clears the current user and the persisted record. It never fails
// and is safe to repeat.
func (m *Manager) SignOut(ctx context.Context) {
	m.mu.Lock()
	prev := m.user
	m.user = nil
	m.version++
	m.mu.Unlock()
	m.publish()

	if err := m.storage.RemoveItem(ctx, StorageKey); err != nil {
		m.log.Error(ctx, "failed to remove persisted session", "error", err)
	}

	if prev != nil {
		m.log.Info(ctx, "signed out", "user_id", prev.ID)
		m.record(ctx, audit.ActionSignOut, prev.Email, &prev.ID, nil)
	}
}

// User returns a copy of the current user, or nil when logged out.
func (m *Manager) User() *models.User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// IsInitializing reports whether Initialize has not completed yet.
func (m *Manager) IsInitializing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initializing
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case !m.started:
		return StateUninitialized
	case m.initializing:
		return StateInitializing
	case m.user == nil:
		return StateLoggedOut
	default:
		return StateLoggedIn
	}
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{Initializing: m.initializing}
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	return s
}

// Subscribe returns a channel that receives the current snapshot immediately
// and the latest snapshot after every change. Slow readers only miss
// intermediate values. The returned func unsubscribes and closes the channel.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.Snapshot()
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			close(ch)
			m.subMu.Unlock()
		})
	}
}

func (m *Manager) publish() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	snap := m.Snapshot()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (m *Manager) setUser(u *models.User) {
	m.mu.Lock()
	m.user = u
	m.version++
	m.mu.Unlock()
	m.publish()
}

func (m *Manager) persist(ctx context.Context, u *models.User) {
	data, err := json.Marshal(u)
	if err == nil {
		err = m.storage.SetItem(ctx, StorageKey, string(data))
	}
	if err != nil {
		m.log.Error(ctx, "failed to persist session",
			"error", fmt.Errorf("%w: %v", apperrors.ErrPersistenceFailure, err))
	}
}

func (m *Manager) record(ctx context.Context, action, subject string, userID *int, cause error) {
	event := &audit.Event{
		Level:    audit.LevelInfo,
		UserID:   userID,
		Subject:  subject,
		Action:   action,
		Resource: authResource,
		Success:  cause == nil,
		Metadata: audit.Metadata(map[string]string{"session_id": m.sessionID}),
	}
	if cause != nil {
		event.Level = audit.LevelWarning
		event.ErrorMsg = cause.Error()
	}

	if err := m.audit.Log(ctx, event); err != nil {
		m.log.Warn(ctx, "failed to record audit event", "action", action, "error", err)
	}
}
