package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pinnit-go/internal/pinnit"
)

// EmailDomain is the synthetic domain accounts are addressed under.
const EmailDomain = "pinnit.local"

// Account name and password rules.
const (
	UsernameMinLength = 3
	UsernameMaxLength = 24
	PasswordMinLength = 6
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

var (
	// ErrInvalidCredentials is returned when a username or password is wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrInvalidToken is returned for a bearer token that fails verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Session is a signed-in identity together with the token that
// authenticates it to the remote store.
type Session struct {
	Identity  pinnit.Identity `json:"identity"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Expired reports whether the session is no longer valid at now.
// A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SessionStore persists the current session on the device.
type SessionStore interface {
	// LoadSession returns the stored session, or nil when signed out.
	LoadSession(ctx context.Context) (*Session, error)
	SaveSession(ctx context.Context, s *Session) error
	ClearSession(ctx context.Context) error
}

// Provider verifies credentials and issues sessions.
type Provider interface {
	Login(ctx context.Context, username, password string) (*Session, error)
}

// EmailFromUsername returns the account address for username.
func EmailFromUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username)) + "@" + EmailDomain
}

// ValidateUsername checks the account name rules.
func ValidateUsername(username string) error {
	n := len(username)
	if n < UsernameMinLength || n > UsernameMaxLength {
		return fmt.Errorf("username must be %d-%d characters", UsernameMinLength, UsernameMaxLength)
	}
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("username may only contain letters, digits and underscores")
	}
	return nil
}

// HashPassword returns a bcrypt hash of password suitable for the
// password_hash field of an [[auth.users]] entry.
func HashPassword(password string) (string, error) {
	if len(password) < PasswordMinLength {
		return "", fmt.Errorf("password must be at least %d characters", PasswordMinLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// Manager tracks who is signed in on this device.
type Manager struct {
	store    SessionStore
	provider Provider
	clock    pinnit.Clock
	logger   pinnit.Logger
}

// NewManager creates a Manager. provider may be nil if sign-in is not
// available; Current and SignOut still work.
func NewManager(store SessionStore, provider Provider, clock pinnit.Clock, logger pinnit.Logger) *Manager {
	return &Manager{
		store:    store,
		provider: provider,
		clock:    clock,
		logger:   logger,
	}
}

// Current returns the signed-in identity, or nil when anonymous. An expired
// session is discarded and reported as anonymous.
func (m *Manager) Current(ctx context.Context) (*pinnit.Identity, error) {
	s, err := m.store.LoadSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if s == nil {
		return nil, nil
	}

	if s.Expired(m.clock.Now()) {
		m.logger.Info("session expired", "identity", s.Identity.ID, "expires_at", s.ExpiresAt)
		if err := m.store.ClearSession(ctx); err != nil {
			return nil, fmt.Errorf("clearing expired session: %w", err)
		}
		return nil, nil
	}

	who := s.Identity
	who.Token = s.Token
	return &who, nil
}

// SignIn verifies credentials with the provider and stores the session.
func (m *Manager) SignIn(ctx context.Context, username, password string) (*pinnit.Identity, error) {
	if m.provider == nil {
		return nil, fmt.Errorf("no auth provider configured")
	}

	s, err := m.provider.Login(ctx, strings.TrimSpace(username), password)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveSession(ctx, s); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}

	m.logger.Info("signed in", "identity", s.Identity.ID, "username", s.Identity.Username)

	who := s.Identity
	who.Token = s.Token
	return &who, nil
}

// SignOut forgets the stored session.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.store.ClearSession(ctx); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	m.logger.Info("signed out")
	return nil
}
