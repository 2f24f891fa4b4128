package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirk1998/quicknotes/internal/audit"
	"github.com/amirk1998/quicknotes/internal/database"
	"github.com/amirk1998/quicknotes/internal/models"
	"github.com/amirk1998/quicknotes/internal/ratelimit"
	"github.com/amirk1998/quicknotes/internal/remote"
	"github.com/amirk1998/quicknotes/internal/repository"
	"github.com/amirk1998/quicknotes/internal/storage"
	apperrors "github.com/amirk1998/quicknotes/pkg/errors"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type env struct {
	users     *repository.UserRepository
	storage   *storage.SQLiteStorage
	localPath string
}

func setupEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	notesDB, err := database.Connect(database.Config{Path: filepath.Join(dir, "notes.db"), Key: testKey})
	require.NoError(t, err)
	t.Cleanup(func() { _ = notesDB.Close() })
	require.NoError(t, database.Migrate(ctx, notesDB, database.SchemaNotesSQLite))

	localPath := filepath.Join(dir, "local.db")
	return &env{
		users:     repository.NewUserRepository(remote.NewClient(remote.NewSQLExecutor(notesDB, remote.DialectSQLite))),
		storage:   openLocal(t, localPath),
		localPath: localPath,
	}
}

func openLocal(t *testing.T, path string) *storage.SQLiteStorage {
	t.Helper()
	db, err := database.Connect(database.Config{Path: path, Key: testKey})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.SchemaLocal))
	return storage.NewSQLiteStorage(db)
}

func TestSignUp_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t)
	m := NewManager(e.users, e.storage)
	m.Initialize(ctx)

	require.NoError(t, m.SignUp(ctx, "a@x.com", "pw1"))
	assert.Nil(t, m.User(), "sign-up does not sign in")

	err := m.SignUp(ctx, "a@x.com", "other")
	assert.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
}

func TestSignIn_WrongPassword(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t)
	m := NewManager(e.users, e.storage)
	m.Initialize(ctx)

	require.NoError(t, m.SignUp(ctx, "a@x.com", "pw1"))

	u, err := m.SignIn(ctx, "a@x.com", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUserNotFound) || errors.Is(err, apperrors.ErrInvalidCredentials))
	assert.Nil(t, u)
	assert.Nil(t, m.User())

	_, ok, err := e.storage.GetItem(ctx, StorageKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignIn_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t)
	m := NewManager(e.users, e.storage)
	m.Initialize(ctx)

	require.NoError(t, m.SignUp(ctx, "a@x.com", "pw1"))
	u, err := m.SignIn(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", u.Email)
	assert.Positive(t, u.ID)
	assert.Equal(t, u, m.User())
	assert.Equal(t, StateLoggedIn, m.State())

	raw, ok, err := e.storage.GetItem(ctx, StorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, fmt.Sprintf(`{"id":%d,"email":"a@x.com"}`, u.ID), raw)

	// A fresh process opens the same local database.
	restarted := NewManager(e.users, openLocal(t, e.localPath))
	assert.True(t, restarted.IsInitializing())
	restarted.Initialize(ctx)
	assert.False(t, restarted.IsInitializing())
	assert.Equal(t, u, restarted.User())
}

func TestSignIn_NonMatchingNeverMutates(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t)
	m := NewManager(e.users, e.storage)
	m.Initialize(ctx)

	require.NoError(t, m.SignUp(ctx, "a@x.com", "pw1"))
	require.NoError(t, m.SignUp(ctx, "b@x.com", "pw2"))

	signedIn, err := m.SignIn(ctx, "b@x.com", "pw2")
	require.NoError(t, err)

	pairs := [][2]string{
		{"a@x.com", "pw2"},
		{"b@x.com", "pw1"},
		{"c@x.com", "pw1"},
		{"A@X.COM", "pw1"},
		{"a@x.com", "PW1"},
		{"", ""},
		{"a@x.com", ""},
		{"' OR '1'='1", "' OR '1'='1"},
	}
	for _, p := range pairs {
		u, err := m.SignIn(ctx, p[0], p[1])
		require.Error(t, err, "%q/%q", p[0], p[1])
		assert.True(t, errors.Is(err, apperrors.ErrUserNotFound) || errors.Is(err, apperrors.ErrInvalidCredentials))
		assert.Nil(t, u)
		assert.Equal(t, signedIn, m.User())
	}
}

func TestSignIn_QueryErrorsAreInvalidCredentials(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		exec *rowsExecutor
	}{
		{"backend failure", &rowsExecutor{err: errors.New(`relation "users" does not exist`)}},
		{"several matches", &rowsExecutor{rows: []remote.Row{
			{"id": int64(1), "email": "a@x.com"},
			{"id": int64(2), "email": "a@x.com"},
		}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			users := repository.NewUserRepository(remote.NewClient(tc.exec))
			store := newMemStorage()
			m := NewManager(users, store)
			m.Initialize(ctx)

			u, err := m.SignIn(ctx, "a@x.com", "pw1")
			assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
			assert.NotContains(t, err.Error(), "relation")
			assert.Nil(t, u)
			assert.Nil(t, m.User())
			_, ok := store.get(StorageKey)
			assert.False(t, ok)
		})
	}
}

func TestSignIn_PersistFailureStillSucceeds(t *testing.T) {
	ctx := context.Background()
	store := newMemStorage()
	store.failSet = true
	m := NewManager(&stubUsers{user: &models.User{ID: 3, Email: "a@x.com"}}, store)
	m.Initialize(ctx)

	u, err := m.SignIn(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	assert.Equal(t, &models.User{ID: 3, Email: "a@x.com"}, u)
	assert.Equal(t, u, m.User())

	_, ok := store.get(StorageKey)
	assert.False(t, ok)
}

func TestSignIn_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewManager(&stubUsers{user: &models.User{ID: 3, Email: "a@x.com"}}, newMemStorage())

	u, err := m.SignIn(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	u.Email = "mutated"
	m.User().Email = "mutated too"

	assert.Equal(t, "a@x.com", m.User().Email)
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()

	for _, failRemove := range []bool{false, true} {
		t.Run(fmt.Sprintf("failRemove=%v", failRemove), func(t *testing.T) {
			store := newMemStorage()
			m := NewManager(&stubUsers{user: &models.User{ID: 3, Email: "a@x.com"}}, store)
			m.Initialize(ctx)

			_, err := m.SignIn(ctx, "a@x.com", "pw1")
			require.NoError(t, err)
			store.failRemove = failRemove

			m.SignOut(ctx)
			assert.Nil(t, m.User())
			assert.Equal(t, StateLoggedOut, m.State())

			_, ok := store.get(StorageKey)
			assert.Equal(t, failRemove, ok)

			first := m.Snapshot()
			m.SignOut(ctx)
			assert.Equal(t, first, m.Snapshot())
		})
	}
}

func TestSignOut_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStorage()
	m := NewManager(&stubUsers{}, store)
	m.Initialize(ctx)

	m.SignOut(ctx)
	once := m.Snapshot()
	m.SignOut(ctx)

	assert.Equal(t, once, m.Snapshot())
	assert.Nil(t, m.User())
}

func TestInitialize_BadRecords(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		record  *string
		failGet bool
	}{
		{"absent", nil, false},
		{"corrupt", strPtr("{not json"), false},
		{"wrong shape", strPtr(`{"id":"seven"}`), false},
		{"null", strPtr("null"), false},
		{"missing email", strPtr(`{"id":1}`), false},
		{"missing id", strPtr(`{"email":"a@x.com"}`), false},
		{"storage failure", strPtr(`{"id":1,"email":"a@x.com"}`), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStorage()
			if tc.record != nil {
				store.items[StorageKey] = *tc.record
			}
			store.failGet = tc.failGet

			m := NewManager(&stubUsers{}, store)
			assert.Equal(t, StateUninitialized, m.State())
			m.Initialize(ctx)

			assert.Nil(t, m.User())
			assert.False(t, m.IsInitializing())
			assert.Equal(t, StateLoggedOut, m.State())
		})
	}
}

func TestInitialize_SignInDuringRestoreWins(t *testing.T) {
	ctx := context.Background()
	store := newMemStorage()
	store.items[StorageKey] = `{"id":1,"email":"old@x.com"}`
	store.read = make(chan struct{})
	store.release = make(chan struct{})

	m := NewManager(&stubUsers{user: &models.User{ID: 2, Email: "new@x.com"}}, store)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Initialize(ctx)
	}()

	<-store.read
	_, err := m.SignIn(ctx, "new@x.com", "pw")
	require.NoError(t, err)
	close(store.release)
	<-done

	assert.Equal(t, &models.User{ID: 2, Email: "new@x.com"}, m.User())
	raw, ok := store.get(StorageKey)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":2,"email":"new@x.com"}`, raw)
	assert.False(t, m.IsInitializing())
}

func TestInitialize_SignOutDuringRestoreWins(t *testing.T) {
	ctx := context.Background()
	store := newMemStorage()
	store.items[StorageKey] = `{"id":1,"email":"old@x.com"}`
	store.read = make(chan struct{})
	store.release = make(chan struct{})

	m := NewManager(&stubUsers{}, store)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Initialize(ctx)
	}()

	<-store.read
	m.SignOut(ctx)
	close(store.release)
	<-done

	assert.Nil(t, m.User())
	_, ok := store.get(StorageKey)
	assert.False(t, ok)
	assert.Equal(t, StateLoggedOut, m.State())
}

func TestInitialize_RunsOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStorage()
	store.items[StorageKey] = `{"id":1,"email":"a@x.com"}`
	m := NewManager(&stubUsers{}, store)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Initialize(ctx)
			assert.False(t, m.IsInitializing())
		}()
	}
	wg.Wait()

	m.SignOut(ctx)
	m.Initialize(ctx)

	assert.Equal(t, 1, store.gets)
	assert.Nil(t, m.User(), "a later Initialize does not reload")
}

func TestSignUp_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("existence check failure", func(t *testing.T) {
		m := NewManager(&stubUsers{existsErr: errors.New("connection refused")}, newMemStorage())
		err := m.SignUp(ctx, "a@x.com", "pw1")
		require.ErrorIs(t, err, apperrors.ErrBackend)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("insert failure carries backend text", func(t *testing.T) {
		users := &stubUsers{createErr: errors.New(`duplicate key value violates unique constraint "users_email_key"`)}
		m := NewManager(users, newMemStorage())
		err := m.SignUp(ctx, "a@x.com", "pw1")
		require.ErrorIs(t, err, apperrors.ErrBackend)
		assert.Equal(t, `duplicate key value violates unique constraint "users_email_key"`, err.Error())
	})

	t.Run("several existing rows", func(t *testing.T) {
		exec := &rowsExecutor{rows: []remote.Row{{"id": int64(1)}, {"id": int64(2)}}}
		m := NewManager(repository.NewUserRepository(remote.NewClient(exec)), newMemStorage())
		assert.ErrorIs(t, m.SignUp(ctx, "a@x.com", "pw1"), apperrors.ErrUserAlreadyExists)
	})

	t.Run("empty strings reach the backend", func(t *testing.T) {
		users := &stubUsers{}
		m := NewManager(users, newMemStorage())
		require.NoError(t, m.SignUp(ctx, "", ""))
		assert.Equal(t, 1, users.created)
	})
}

func TestSignUp_RateLimited(t *testing.T) {
	ctx := context.Background()
	users := &stubUsers{}
	m := NewManager(users, newMemStorage(), WithSignUpLimiter(ratelimit.NewRateLimiter(1, 2)))

	require.NoError(t, m.SignUp(ctx, "a@x.com", "pw1"))
	require.NoError(t, m.SignUp(ctx, "a@x.com", "pw1"))
	assert.ErrorIs(t, m.SignUp(ctx, "a@x.com", "pw1"), apperrors.ErrRateLimitExceeded)
	assert.NoError(t, m.SignUp(ctx, "b@x.com", "pw1"))
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewManager(&stubUsers{user: &models.User{ID: 3, Email: "a@x.com"}}, newMemStorage())

	ch, unsubscribe := m.Subscribe()
	first := <-ch
	assert.True(t, first.Initializing)
	assert.Nil(t, first.User)

	m.Initialize(ctx)
	assert.Equal(t, Snapshot{}, latest(t, ch))

	_, err := m.SignIn(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	assert.Equal(t, Snapshot{User: &models.User{ID: 3, Email: "a@x.com"}}, latest(t, ch))

	m.SignOut(ctx)
	assert.Equal(t, Snapshot{}, latest(t, ch))

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	_, err = m.SignIn(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
}

// latest waits for one value then drains whatever else is buffered.
func latest(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	var s Snapshot
	select {
	case s = <-ch:
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}
	for {
		select {
		case next := <-ch:
			s = next
		default:
			return s
		}
	}
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	m := NewManager(&stubUsers{user: &models.User{ID: 3, Email: "a@x.com"}}, newMemStorage(), WithAudit(rec))
	m.Initialize(ctx)

	_, err := m.SignIn(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	m.SignOut(ctx)
	m.SignOut(ctx)

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionSignIn, events[0].Action)
	assert.True(t, events[0].Success)
	assert.Equal(t, "a@x.com", events[0].Subject)
	assert.Contains(t, events[0].Metadata, m.SessionID())
	assert.Equal(t, audit.ActionSignOut, events[1].Action)

	failing := NewManager(&stubUsers{findErr: apperrors.ErrRecordNotFound}, newMemStorage(), WithAudit(rec))
	_, err = failing.SignIn(ctx, "a@x.com", "nope")
	require.ErrorIs(t, err, apperrors.ErrUserNotFound)

	events = rec.all()
	last := events[len(events)-1]
	assert.False(t, last.Success)
	assert.Equal(t, audit.LevelWarning, last.Level)
	assert.Equal(t, apperrors.ErrUserNotFound.Error(), last.ErrorMsg)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "logged_out", StateLoggedOut.String())
	assert.Equal(t, "logged_in", StateLoggedIn.String())
}

func strPtr(s string) *string { return &s }
