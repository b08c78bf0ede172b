package keystore

import (
	"errors"
	"sort"
	"sync"
)

var ErrClosed = errors.New("backend closed")

// MemoryBackend keeps key material in process memory. Nothing survives a
// restart; it suits tests and ephemeral stores.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
	closed  bool
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]byte)}
}

// Load returns a copy of the material for alias
func (b *MemoryBackend) Load(alias string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}
	material, ok := b.entries[alias]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), material...), nil
}

// Store keeps a copy of material
func (b *MemoryBackend) Store(alias string, material []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.entries[alias] = append([]byte(nil), material...)
	return nil
}

// Has reports whether alias has an entry
func (b *MemoryBackend) Has(alias string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, ErrClosed
	}
	_, ok := b.entries[alias]
	return ok, nil
}

// Delete removes alias
func (b *MemoryBackend) Delete(alias string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	delete(b.entries, alias)
	return nil
}

// Aliases lists aliases in sorted order
func (b *MemoryBackend) Aliases() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}
	aliases := make([]string, 0, len(b.entries))
	for alias := range b.entries {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases, nil
}

// Close drops all material
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = nil
	b.closed = true
	return nil
}
