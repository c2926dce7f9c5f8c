// Package auth verifies publish credentials and decides who may publish
// which package.
package auth

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidToken is returned for tokens that fail signature, expiry or
	// claim checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnknownUser is returned when a token or request names a user that
	// is not in the users file.
	ErrUnknownUser = errors.New("unknown user")
	// ErrNoSecret is returned when signing or verifying without a secret.
	ErrNoSecret = errors.New("no signing secret configured")
)

// DefaultTokenTTL is the lifetime of issued tokens.
const DefaultTokenTTL = 30 * 24 * time.Hour

// User is one entry of the users file.
type User struct {
	Username      string   `yaml:"username"`
	Email         string   `yaml:"email,omitempty"`
	IsAdmin       bool     `yaml:"is_admin,omitempty"`
	OwnedPackages []string `yaml:"owned_packages,omitempty"`
}

type usersFile struct {
	Users []User `yaml:"users"`
}

// Claims are the JWT claims of a publish token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authority signs and verifies HS256 tokens and answers ownership
// questions from its user table.
type Authority struct {
	secret []byte
	now    func() time.Time

	mu    sync.RWMutex
	users map[string]User
}

// Option configures an Authority.
type Option func(*Authority)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) {
		a.now = now
	}
}

// New creates an Authority with the given signing secret and users.
func New(secret string, users []User, opts ...Option) *Authority {
	a := &Authority{
		secret: []byte(secret),
		now:    time.Now,
		users:  make(map[string]User, len(users)),
	}
	for _, u := range users {
		a.users[u.Username] = u
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// LoadUsers reads a YAML users file. A missing file has no users.
func LoadUsers(path string) ([]User, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading users file: %w", err)
	}

	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing users file %s: %w", path, err)
	}
	for i, u := range f.Users {
		if u.Username == "" {
			return nil, fmt.Errorf("users file %s: entry %d has no username", path, i)
		}
	}
	return f.Users, nil
}

// SaveUsers writes users to path as YAML.
func SaveUsers(path string, users []User) error {
	data, err := yaml.Marshal(usersFile{Users: users})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing users file: %w", err)
	}
	return nil
}

// User returns the named user.
func (a *Authority) User(username string) (User, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	u, ok := a.users[username]
	return u, ok
}

// GrantOwnership records username as an owner of pkg.
func (a *Authority) GrantOwnership(username, pkg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[username]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}
	if !slices.Contains(u.OwnedPackages, pkg) {
		u.OwnedPackages = append(slices.Clone(u.OwnedPackages), pkg)
		a.users[username] = u
	}
	return nil
}

// IssueToken signs a token for username valid for ttl. A zero ttl uses
// DefaultTokenTTL.
func (a *Authority) IssueToken(username string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrNoSecret
	}
	if _, ok := a.User(username); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := a.now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify checks an HS256 token and returns the username it was issued
// for. The user must still exist.
func (a *Authority) Verify(credentials string) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrNoSecret
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(credentials, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Username == "" {
		return "", fmt.Errorf("%w: missing username", ErrInvalidToken)
	}
	if _, ok := a.User(claims.Username); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownUser, claims.Username)
	}
	return claims.Username, nil
}

// CanPublish reports whether username may publish versions of name.
// Admins may publish anything; other users only packages they own.
func (a *Authority) CanPublish(username, name string) bool {
	u, ok := a.User(username)
	if !ok {
		return false
	}
	return u.IsAdmin || slices.Contains(u.OwnedPackages, name)
}
