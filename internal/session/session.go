// Package session keeps the server session token in the secure store.
package session

import (
	"errors"
	"fmt"

	"github.com/illarion/securestore/internal/core"
)

// Key holds the server JWT
const Key = "server_jwt"

var ErrNoToken = errors.New("no session token")

// Store is the part of the secure store Tokens needs
type Store interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Has(key string) (bool, error)
	Delete(key string) error
}

// Tokens saves and loads the server JWT
type Tokens struct {
	store Store
}

func New(store Store) *Tokens {
	return &Tokens{store: store}
}

// Save replaces the stored token
func (t *Tokens) Save(token string) error {
	if token == "" {
		return fmt.Errorf("refusing to save empty session token")
	}
	if err := t.store.Put(Key, []byte(token)); err != nil {
		return fmt.Errorf("failed to save session token: %w", err)
	}
	return nil
}

// Load returns the stored token, or ErrNoToken if there is none
func (t *Tokens) Load() (string, error) {
	data, err := t.store.Get(Key)
	if errors.Is(err, core.ErrNotFound) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("failed to load session token: %w", err)
	}
	return string(data), nil
}

// Has reports whether a token is stored
func (t *Tokens) Has() (bool, error) {
	return t.store.Has(Key)
}

// Clear removes the token
func (t *Tokens) Clear() error {
	if err := t.store.Delete(Key); err != nil {
		return fmt.Errorf("failed to clear session token: %w", err)
	}
	return nil
}
