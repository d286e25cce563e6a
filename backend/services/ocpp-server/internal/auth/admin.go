package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned for a wrong username or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrEmptyPassword is returned when hashing a blank admin password.
	ErrEmptyPassword = errors.New("auth: empty password")
)

// Hasher hashes and checks the admin password.
type Hasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// BcryptHasher stores admin passwords as bcrypt hashes.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher uses bcrypt.DefaultCost for costs below bcrypt.MinCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash returns the value to put in admin.passwordHash.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// Compare reports ErrInvalidCredentials on mismatch; a malformed hash is a configuration error.
func (h *BcryptHasher) Compare(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrInvalidCredentials
	default:
		return fmt.Errorf("auth: check password: %w", err)
	}
}

// Admin authenticates the single operator account configured for the admin surface.
type Admin struct {
	username     string
	passwordHash string
	hasher       Hasher
	tokens       *TokenService
}

// NewAdmin returns an authenticator for username whose password matches passwordHash.
func NewAdmin(username, passwordHash string, hasher Hasher, tokens *TokenService) *Admin {
	return &Admin{username: username, passwordHash: passwordHash, hasher: hasher, tokens: tokens}
}

// Login checks the credentials and issues a token.
func (a *Admin) Login(username, password string) (string, error) {
	if a.username == "" || a.passwordHash == "" {
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) != 1 {
		return "", ErrInvalidCredentials
	}
	if err := a.hasher.Compare(a.passwordHash, password); err != nil {
		return "", ErrInvalidCredentials
	}
	return a.tokens.GenerateToken(username)
}

// Tokens returns the token service used to validate requests.
func (a *Admin) Tokens() *TokenService {
	return a.tokens
}
