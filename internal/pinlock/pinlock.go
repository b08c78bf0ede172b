// Package pinlock counts incorrect PIN attempts in the secure store.
package pinlock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/illarion/securestore/internal/core"
	"github.com/illarion/securestore/internal/keystore"
)

const (
	MaxAttempts = 3

	// Key holds the incorrect attempt count. Incorrect rather than remaining
	// attempts are stored so that changing MaxAttempts keeps old counts valid.
	Key = "pin_incorrect_attempts"
)

// Store is the part of the secure store a Counter needs
type Store interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
}

// Counter tracks incorrect PIN attempts. It is safe for concurrent use.
type Counter struct {
	store  Store
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a Counter over store
func New(store Store, logger *slog.Logger) *Counter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{store: store, logger: logger}
}

// Remaining returns how many attempts are left before lockout
func (c *Counter) Remaining() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	incorrect, err := c.incorrect()
	if err != nil {
		return 0, err
	}
	return MaxAttempts - incorrect, nil
}

// Exhausted reports whether no attempts are left
func (c *Counter) Exhausted() (bool, error) {
	remaining, err := c.Remaining()
	return remaining <= 0, err
}

// RecordFailure counts one incorrect attempt, never past MaxAttempts, and
// returns the attempts left
func (c *Counter) RecordFailure() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	incorrect, err := c.incorrect()
	if err != nil {
		return 0, err
	}
	incorrect = min(incorrect+1, MaxAttempts)
	if err := c.store.Put(Key, encode(incorrect)); err != nil {
		return 0, fmt.Errorf("failed to record incorrect attempt: %w", err)
	}
	return MaxAttempts - incorrect, nil
}

// Reset clears the incorrect attempt count, typically after a correct PIN
func (c *Counter) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Put(Key, encode(0)); err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	return nil
}

// incorrect reads the stored count. A missing count is created as zero. A
// count whose ciphertext no longer decrypts is read as zero: the padding
// failure means the value is lost, and locking the user out over it would be
// worse than granting fresh attempts.
func (c *Counter) incorrect() (int, error) {
	data, err := c.store.Get(Key)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrNotFound):
		if err := c.store.Put(Key, encode(0)); err != nil {
			return 0, fmt.Errorf("failed to initialize attempts: %w", err)
		}
		return 0, nil
	case errors.Is(err, keystore.ErrInvalidPadding):
		c.logger.Warn("incorrect attempt count unreadable, treating as zero", "key", Key, "error", err)
		return 0, nil
	default:
		return 0, fmt.Errorf("failed to read attempts: %w", err)
	}

	if len(data) != 4 {
		return 0, fmt.Errorf("failed to read attempts: stored count has %d bytes, want 4", len(data))
	}
	n := int(int32(binary.BigEndian.Uint32(data)))
	if n < 0 {
		return 0, fmt.Errorf("failed to read attempts: negative count %d", n)
	}
	return min(n, MaxAttempts), nil
}

func encode(n int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(int32(n)))
	return buf
}
