package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"pinnit-go/internal/config"
	"pinnit-go/internal/pinnit"
)

// DefaultTokenTTL is used when the config leaves token_ttl_hours unset.
const DefaultTokenTTL = 30 * 24 * time.Hour

// Claims are the JWT claims carried by a pinnit bearer token.
// The subject is the account ID.
type Claims struct {
	Username    string `json:"username"`
	DisplayName string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// LocalProvider verifies accounts listed in the config and issues HS256
// tokens. pinnit-server uses it to guard its API, and a single-user CLI can
// use it directly.
type LocalProvider struct {
	users  map[string]config.UserConfig
	secret []byte
	ttl    time.Duration
	clock  pinnit.Clock
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider creates a LocalProvider from the auth config.
func NewLocalProvider(cfg config.AuthConfig, clock pinnit.Clock) (*LocalProvider, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("auth secret required for local auth")
	}

	users := make(map[string]config.UserConfig, len(cfg.Users))
	for _, u := range cfg.Users {
		key := strings.ToLower(u.Username)
		if _, dup := users[key]; dup {
			return nil, fmt.Errorf("duplicate user %q", u.Username)
		}
		users[key] = u
	}

	ttl := DefaultTokenTTL
	if cfg.TokenTTLHours > 0 {
		ttl = time.Duration(cfg.TokenTTLHours) * time.Hour
	}

	return &LocalProvider{
		users:  users,
		secret: []byte(cfg.Secret),
		ttl:    ttl,
		clock:  clock,
	}, nil
}

// Login checks the password against the stored bcrypt hash.
// Usernames are matched case-insensitively.
func (p *LocalProvider) Login(ctx context.Context, username, password string) (*Session, error) {
	u, ok := p.users[strings.ToLower(username)]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	identity := pinnit.Identity{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Email:       EmailFromUsername(u.Username),
	}

	token, expiresAt, err := p.IssueToken(identity)
	if err != nil {
		return nil, err
	}

	return &Session{Identity: identity, Token: token, ExpiresAt: expiresAt}, nil
}

// IssueToken signs a token for identity.
func (p *LocalProvider) IssueToken(identity pinnit.Identity) (string, time.Time, error) {
	now := p.clock.Now()
	expiresAt := now.Add(p.ttl)

	claims := Claims{
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		Email:       identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return token, expiresAt, nil
}

// VerifyToken checks signature and expiry and returns the identity the
// token was issued for.
func (p *LocalProvider) VerifyToken(token string) (*pinnit.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: expired", ErrInvalidToken)
		}
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &pinnit.Identity{
		ID:          claims.Subject,
		Username:    claims.Username,
		DisplayName: claims.DisplayName,
		Email:       claims.Email,
		Token:       token,
	}, nil
}
