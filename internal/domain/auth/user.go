package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Role distinguishes dealer and admin users.
type Role string

const (
	RoleDealer Role = "dealer"
	RoleAdmin  Role = "admin"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
)

// User is a dealer or admin account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is an opaque bearer token bound to a user.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserRepository persists users and sessions.
type UserRepository interface {
	CreateUser(ctx context.Context, u *User) error
	UserByEmail(ctx context.Context, email string) (*User, error)
	CreateSession(ctx context.Context, s *Session) error
	// SessionUser returns the user of an unexpired session.
	SessionUser(ctx context.Context, token string, now time.Time) (*User, error)
	DeleteSession(ctx context.Context, token string) error
}

// RegisterRequest is the dealer sign-up form.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"max=120"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Users handles dealer accounts and sessions.
type Users struct {
	repo UserRepository
	ttl  time.Duration
	cost int
	lg   *zap.Logger
	now  func() time.Time
}

// NewUsers creates a Users service issuing sessions valid for ttl.
func NewUsers(repo UserRepository, ttl time.Duration, lg *zap.Logger) *Users {
	return &Users{repo: repo, ttl: ttl, cost: bcrypt.DefaultCost, lg: lg, now: time.Now}
}

// Register creates a dealer account and logs it in.
func (u *Users) Register(ctx context.Context, req RegisterRequest) (*User, *Session, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return nil, nil, errors.Wrap(err, "validate registration")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), u.cost)
	if err != nil {
		return nil, nil, errors.Wrap(err, "hash password")
	}
	user := &User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hash),
		Role:         RoleDealer,
		CreatedAt:    u.now(),
	}
	if err := u.repo.CreateUser(ctx, user); err != nil {
		return nil, nil, err
	}

	sess, err := u.newSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	u.lg.Info("Dealer registered", zap.String("user_id", user.ID))
	return user, sess, nil
}

// Login verifies credentials and opens a session.
func (u *Users) Login(ctx context.Context, email, password string) (*User, *Session, error) {
	user, err := u.repo.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, errors.Wrap(err, "get user")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}

	sess, err := u.newSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, sess, nil
}

// Authenticate resolves a session token to its user.
func (u *Users) Authenticate(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	user, err := u.repo.SessionUser(ctx, token, u.now())
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "get session")
	}
	return user, nil
}

// Logout ends a session.
func (u *Users) Logout(ctx context.Context, token string) error {
	return u.repo.DeleteSession(ctx, token)
}

func (u *Users) newSession(ctx context.Context, userID string) (*Session, error) {
	token, err := randomHex(32)
	if err != nil {
		return nil, err
	}
	sess := &Session{Token: token, UserID: userID, ExpiresAt: u.now().Add(u.ttl)}
	if err := u.repo.CreateSession(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	return sess, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "read random")
	}
	return hex.EncodeToString(b), nil
}
