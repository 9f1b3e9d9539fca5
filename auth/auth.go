// Package auth implements account registration and token issuing for relay
// users. Passwords are stored as bcrypt hashes, users get uuid ids, and
// tokens live in an expiring go-cache until they time out or are revoked by
// Logout.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cyberinferno/go-relay/safemap"
	"github.com/cyberinferno/go-relay/safeset"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmailExists is returned by Register when the email is taken.
	ErrEmailExists = errors.New("email already exists")
	// ErrNicknameTaken is returned by Register when another account owns the nickname.
	ErrNicknameTaken = errors.New("nickname already taken")
	// ErrNotFound is returned by Login for an unknown email.
	ErrNotFound = errors.New("user not found")
	// ErrBadCredential is returned by Login for a wrong password.
	ErrBadCredential = errors.New("bad credential")
	// ErrInvalidInput is returned when a required field is empty.
	ErrInvalidInput = errors.New("email, nickname and password are required")
	// ErrInvalidNickname is returned by Register for a nickname with leading
	// or trailing whitespace. Nicknames are matched exactly against login
	// usernames.
	ErrInvalidNickname = errors.New("nickname must not start or end with whitespace")
	// ErrHash wraps password hashing failures.
	ErrHash = errors.New("password hashing failed")
)

// DefaultTokenTTL is used when New is given a non-positive TTL.
const DefaultTokenTTL = 24 * time.Hour

// User is a registered account.
type User struct {
	ID           uuid.UUID
	Email        string
	Nickname     string
	passwordHash []byte
}

// Session is the result of a successful Login.
type Session struct {
	UserID uuid.UUID
	Token  string
}

// Service registers users and issues tokens. Safe for concurrent use.
type Service struct {
	users     *safemap.SafeMap[string, *User]
	nicknames *safeset.SafeSet[string]
	tokens    *cache.Cache
	ttl       time.Duration
	cost      int
}

// Option customizes a Service.
type Option func(*Service)

// WithBcryptCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.cost = cost
	}
}

// New creates a Service whose tokens expire after tokenTTL.
func New(tokenTTL time.Duration, opts ...Option) *Service {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}

	s := &Service{
		users:     safemap.NewSafeMap[string, *User](),
		nicknames: safeset.NewSafeSet[string](),
		tokens:    cache.New(tokenTTL, tokenTTL),
		ttl:       tokenTTL,
		cost:      bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account.
//
// Parameters:
//   - ctx: Context for cancellation
//   - email: Unique, case-insensitive login name
//   - nickname: Unique username the account may claim on the relay
//   - password: Plain text password, hashed with bcrypt
//
// Returns:
//   - The new user id
//   - ErrInvalidInput, ErrInvalidNickname, ErrEmailExists, ErrNicknameTaken
//     or a wrapped ErrHash on failure
func (s *Service) Register(ctx context.Context, email, nickname, password string) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	email = normalizeEmail(email)
	if email == "" || nickname == "" || password == "" {
		return uuid.Nil, ErrInvalidInput
	}
	if nickname != strings.TrimSpace(nickname) {
		return uuid.Nil, ErrInvalidNickname
	}

	if s.users.Has(email) {
		return uuid.Nil, ErrEmailExists
	}

	if !s.nicknames.Add(nickname) {
		return uuid.Nil, ErrNicknameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		s.nicknames.Remove(nickname)
		return uuid.Nil, fmt.Errorf("%w: %w", ErrHash, err)
	}

	u := &User{
		ID:           uuid.New(),
		Email:        email,
		Nickname:     nickname,
		passwordHash: hash,
	}
	if _, loaded := s.users.LoadOrStore(email, u); loaded {
		s.nicknames.Remove(nickname)
		return uuid.Nil, ErrEmailExists
	}

	return u.ID, nil
}

// Login verifies credentials and issues a new token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	u, ok := s.users.Load(normalizeEmail(email))
	if !ok {
		return Session{}, ErrNotFound
	}

	if err := bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)); err != nil {
		return Session{}, ErrBadCredential
	}

	token := uuid.NewString()
	s.tokens.Set(token, u.Email, s.ttl)

	return Session{UserID: u.ID, Token: token}, nil
}

// ValidateToken reports whether token was issued and is neither expired nor
// revoked.
func (s *Service) ValidateToken(token string) bool {
	_, ok := s.Identify(token)
	return ok
}

// Identify returns the user owning a valid token.
func (s *Service) Identify(token string) (User, bool) {
	v, found := s.tokens.Get(token)
	if !found {
		return User{}, false
	}

	u, ok := s.users.Load(v.(string))
	if !ok {
		return User{}, false
	}

	return *u, true
}

// Logout revokes token. Unknown tokens are ignored.
func (s *Service) Logout(token string) {
	s.tokens.Delete(token)
}
