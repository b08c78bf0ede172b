package keystore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	DefaultService = "securestore"

	// indexUser is the reserved keyring entry listing every alias, since OS
	// keyrings cannot enumerate the entries of a service.
	indexUser = "__securestore_index__"
)

// KeyringBackend stores key material in the OS keyring
type KeyringBackend struct {
	service string
	mu      sync.Mutex
}

// NewKeyringBackend creates a backend storing entries under service
func NewKeyringBackend(service string) *KeyringBackend {
	if service == "" {
		service = DefaultService
	}
	return &KeyringBackend{service: service}
}

// Load retrieves material from the OS keyring
func (k *KeyringBackend) Load(alias string) ([]byte, error) {
	encoded, err := keyring.Get(k.service, alias)
	if err != nil {
		return nil, k.mapErr(err)
	}
	material, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("corrupt keyring entry %s: %w", alias, err)
	}
	return material, nil
}

// Store saves material in the OS keyring and records the alias in the index
func (k *KeyringBackend) Store(alias string, material []byte) error {
	if alias == indexUser {
		return fmt.Errorf("alias %s is reserved", alias)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := keyring.Set(k.service, alias, base64.StdEncoding.EncodeToString(material)); err != nil {
		return k.mapErr(err)
	}

	index, err := k.readIndex()
	if err == nil {
		if _, ok := index[alias]; ok {
			return nil
		}
		index[alias] = struct{}{}
		err = k.writeIndex(index)
	}
	if err != nil {
		// An entry missing from the index is invisible to Aliases and Wipe
		if derr := keyring.Delete(k.service, alias); derr != nil && !errors.Is(derr, keyring.ErrNotFound) {
			err = errors.Join(err, k.mapErr(derr))
		}
		return err
	}
	return nil
}

// Has checks whether an alias has an entry in the OS keyring
func (k *KeyringBackend) Has(alias string) (bool, error) {
	_, err := keyring.Get(k.service, alias)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, keyring.ErrNotFound) {
		return false, nil
	}
	return false, k.mapErr(err)
}

// Delete removes an entry from the OS keyring and the index
func (k *KeyringBackend) Delete(alias string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := keyring.Delete(k.service, alias); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return k.mapErr(err)
	}

	index, err := k.readIndex()
	if err != nil {
		return err
	}
	if _, ok := index[alias]; !ok {
		return nil
	}
	delete(index, alias)
	return k.writeIndex(index)
}

// Aliases returns the indexed aliases that still have a keyring entry.
// Entries removed behind our back (keyring reset, user action) are not
// reported, so the caller sees what the keyring actually holds.
func (k *KeyringBackend) Aliases() ([]string, error) {
	k.mu.Lock()
	index, err := k.readIndex()
	k.mu.Unlock()
	if err != nil {
		return nil, err
	}

	aliases := make([]string, 0, len(index))
	for alias := range index {
		ok, err := k.Has(alias)
		if err != nil {
			return nil, err
		}
		if ok {
			aliases = append(aliases, alias)
		}
	}
	sort.Strings(aliases)
	return aliases, nil
}

// Close is a no-op; the OS keyring has no handle to release
func (k *KeyringBackend) Close() error {
	return nil
}

func (k *KeyringBackend) readIndex() (map[string]struct{}, error) {
	index := make(map[string]struct{})

	data, err := keyring.Get(k.service, indexUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return index, nil
	}
	if err != nil {
		return nil, k.mapErr(err)
	}

	var aliases []string
	if err := json.Unmarshal([]byte(data), &aliases); err != nil {
		return nil, fmt.Errorf("corrupt keyring index: %w", err)
	}
	for _, alias := range aliases {
		index[alias] = struct{}{}
	}
	return index, nil
}

func (k *KeyringBackend) writeIndex(index map[string]struct{}) error {
	if len(index) == 0 {
		if err := keyring.Delete(k.service, indexUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return k.mapErr(err)
		}
		return nil
	}

	aliases := make([]string, 0, len(index))
	for alias := range index {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	data, err := json.Marshal(aliases)
	if err != nil {
		return err
	}
	return k.mapErr(keyring.Set(k.service, indexUser, string(data)))
}

// mapErr translates keyring errors. A D-Bus call that got no reply is the
// secret service equivalent of the transient provider fault: the same call
// usually succeeds a moment later.
func (k *KeyringBackend) mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, keyring.ErrNotFound):
		return ErrKeyNotFound
	case strings.Contains(err.Error(), "NoReply"):
		return fmt.Errorf("%w: %v", ErrTransient, err)
	default:
		return err
	}
}
