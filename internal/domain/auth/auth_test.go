package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// --- Mock implementations ---

type memKeys struct {
	byHash map[string]*APIKeyInfo
}

func (m *memKeys) FindByHash(_ context.Context, hash string) (*APIKeyInfo, error) {
	info, ok := m.byHash[hash]
	if !ok {
		return nil, ErrUnauthorized
	}
	return info, nil
}

func (m *memKeys) CreateKey(_ context.Context, info *APIKeyInfo) error {
	info.ID = "key-1"
	m.byHash[info.KeyHash] = info
	return nil
}

type memUsers struct {
	users    map[string]*User
	sessions map[string]*Session
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*User), sessions: make(map[string]*Session)}
}

func (m *memUsers) CreateUser(_ context.Context, u *User) error {
	if _, ok := m.users[u.Email]; ok {
		return ErrEmailTaken
	}
	cp := *u
	m.users[u.Email] = &cp
	return nil
}

func (m *memUsers) UserByEmail(_ context.Context, email string) (*User, error) {
	u, ok := m.users[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) CreateSession(_ context.Context, s *Session) error {
	cp := *s
	m.sessions[s.Token] = &cp
	return nil
}

func (m *memUsers) SessionUser(_ context.Context, token string, now time.Time) (*User, error) {
	s, ok := m.sessions[token]
	if !ok || !now.Before(s.ExpiresAt) {
		return nil, ErrUserNotFound
	}
	for _, u := range m.users {
		if u.ID == s.UserID {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *memUsers) DeleteSession(_ context.Context, token string) error {
	delete(m.sessions, token)
	return nil
}

// --- Helpers ---

func newUsers(repo *memUsers, now *time.Time) *Users {
	u := NewUsers(repo, time.Hour, zap.NewNop())
	u.cost = bcrypt.MinCost
	u.now = func() time.Time { return *now }
	return u
}

// --- Tests ---

func TestKeyAuthenticator(t *testing.T) {
	pepper := []byte("pepper")
	keys := &memKeys{byHash: map[string]*APIKeyInfo{}}
	a := NewKeyAuthenticator(keys, pepper)

	key, err := a.Issue(context.Background(), "ops", []string{ScopeAdmin})
	require.NoError(t, err)
	assert.Contains(t, key, "dd_")

	info, err := a.Authenticate(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "ops", info.Name)
	assert.True(t, info.HasScope("plans"))

	_, err = a.Authenticate(context.Background(), key+"x")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = a.Authenticate(context.Background(), "")
	require.ErrorIs(t, err, ErrUnauthorized)

	// A different pepper yields a different hash.
	_, err = NewKeyAuthenticator(keys, []byte("other")).Authenticate(context.Background(), key)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestKeyAuthenticator_StoredHashMismatch(t *testing.T) {
	pepper := []byte("pepper")
	hash := HashKey(pepper, "secret")
	keys := &memKeys{byHash: map[string]*APIKeyInfo{
		hash: {ID: "1", KeyHash: HashKey(pepper, "something-else")},
	}}

	_, err := NewKeyAuthenticator(keys, pepper).Authenticate(context.Background(), "secret")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestHasScope(t *testing.T) {
	k := &APIKeyInfo{Scopes: []string{"quotes"}}
	assert.True(t, k.HasScope("quotes"))
	assert.False(t, k.HasScope("plans"))
}

func TestRegisterLoginLogout(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	repo := newMemUsers()
	u := newUsers(repo, &now)
	ctx := context.Background()

	user, sess, err := u.Register(ctx, RegisterRequest{Email: " Owner@Example.com ", Password: "hunter22!", Name: "Owner"})
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", user.Email)
	assert.Equal(t, RoleDealer, user.Role)
	assert.NotEqual(t, "hunter22!", user.PasswordHash)
	assert.Len(t, sess.Token, 64)
	assert.Equal(t, now.Add(time.Hour), sess.ExpiresAt)

	_, _, err = u.Register(ctx, RegisterRequest{Email: "owner@example.com", Password: "another-pass"})
	require.ErrorIs(t, err, ErrEmailTaken)

	_, _, err = u.Login(ctx, "owner@example.com", "wrong-pass")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = u.Login(ctx, "nobody@example.com", "hunter22!")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, sess2, err := u.Login(ctx, "OWNER@example.com", "hunter22!")
	require.NoError(t, err)

	got, err := u.Authenticate(ctx, sess2.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	require.NoError(t, u.Logout(ctx, sess2.Token))
	_, err = u.Authenticate(ctx, sess2.Token)
	require.ErrorIs(t, err, ErrUnauthorized)

	now = now.Add(2 * time.Hour)
	_, err = u.Authenticate(ctx, sess.Token)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRegister_Validation(t *testing.T) {
	now := time.Now()
	u := newUsers(newMemUsers(), &now)

	_, _, err := u.Register(context.Background(), RegisterRequest{Email: "bad", Password: "longenough"})
	require.Error(t, err)
	_, _, err = u.Register(context.Background(), RegisterRequest{Email: "a@b.co", Password: "short"})
	require.Error(t, err)
}
