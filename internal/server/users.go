package server

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

var (
	ErrUserExists   = errors.New("username already taken")
	ErrWeakPassword = errors.New("password must be at least 8 characters")
	ErrInvalidUser  = errors.New("username is required")
	errInvalidCreds = errors.New("invalid credentials")
)

const minPasswordBytes = 8

// argon2id parameters for stored passwords.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 2
	argonKeyLen  = 32
	saltLen      = 16
)

type account struct {
	salt  []byte
	hash  []byte
	admin bool
}

// Directory is the in-memory account store of the reference server.
type Directory struct {
	mu       sync.RWMutex
	accounts map[string]account
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{accounts: make(map[string]account)}
}

// Register creates a regular account.
func (d *Directory) Register(username, password string) error {
	return d.add(username, password, false)
}

// RegisterAdmin creates an account allowed to use the admin login.
func (d *Directory) RegisterAdmin(username, password string) error {
	return d.add(username, password, true)
}

func (d *Directory) add(username, password string, admin bool) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrInvalidUser
	}
	if len(password) < minPasswordBytes {
		return ErrWeakPassword
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	acc := account{salt: salt, hash: hashPassword(password, salt), admin: admin}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.accounts[username]; ok {
		return ErrUserExists
	}
	d.accounts[username] = acc
	return nil
}

// Authenticate checks the password of username. With adminOnly set, regular accounts fail.
func (d *Directory) Authenticate(username, password string, adminOnly bool) error {
	d.mu.RLock()
	acc, ok := d.accounts[strings.TrimSpace(username)]
	d.mu.RUnlock()
	if !ok {
		return errInvalidCreds
	}
	if subtle.ConstantTimeCompare(hashPassword(password, acc.salt), acc.hash) != 1 {
		return errInvalidCreds
	}
	if adminOnly && !acc.admin {
		return errInvalidCreds
	}
	return nil
}

func hashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}
