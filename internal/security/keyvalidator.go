// Package security validates caller input before it reaches either store.
package security

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxKeyLength bounds logical keys; OS keyrings reject long account names.
const MaxKeyLength = 200

// ReservedKey labels store-wide operations in the audit trail.
const ReservedKey = "*"

var (
	ErrEmptyKey     = errors.New("empty key not allowed")
	ErrKeyTooLong   = errors.New("key too long")
	ErrReservedKey  = errors.New("key is reserved")
	ErrInvalidKey   = errors.New("key contains invalid characters")
	ErrKeyNamespace = errors.New("key collides with an internal namespace")
)

// KeyValidator rejects logical keys that would be ambiguous in storage:
// a key starting with an internal prefix would alias another key's entry.
type KeyValidator struct {
	prefixes []string
}

// New creates a KeyValidator refusing keys that start with any of prefixes
func New(prefixes ...string) *KeyValidator {
	return &KeyValidator{prefixes: prefixes}
}

// Validate checks a logical key. It rejects:
// - Empty keys and keys longer than MaxKeyLength
// - The reserved "*" key
// - Invalid UTF-8, control characters and whitespace
// - Keys starting with an internal namespace prefix
func (kv *KeyValidator) Validate(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: %d > %d bytes", ErrKeyTooLong, len(key), MaxKeyLength)
	}
	if key == ReservedKey {
		return fmt.Errorf("%w: %s", ErrReservedKey, key)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidKey)
	}
	for _, r := range key {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	for _, prefix := range kv.prefixes {
		if strings.HasPrefix(key, prefix) {
			return fmt.Errorf("%w: %s", ErrKeyNamespace, key)
		}
	}
	return nil
}
