package keystore

import (
	"errors"
	"fmt"

	"github.com/illarion/securestore/internal/crypto"
)

// MaxPlaintextSize caps every plaintext, whatever the scheme. Only the RSA
// scheme needs a cap; applying it to both keeps behaviour identical across
// platforms.
const MaxPlaintextSize = 512

// Scheme provisions and uses the key for an alias.
type Scheme interface {
	Mode() Mode

	// EnsureKey creates key material for alias unless it already exists.
	EnsureKey(alias string) error

	Encrypt(alias string, plaintext, iv []byte) ([]byte, error)
	Decrypt(alias string, ciphertext, iv []byte) ([]byte, error)
}

// newScheme returns the scheme for mode, storing material in backend.
func newScheme(mode Mode, backend Backend, rsaBits int) Scheme {
	if mode == ModeLegacy {
		return &legacyScheme{backend: backend, bits: rsaBits}
	}
	return &modernScheme{backend: backend}
}

// ensure creates material for alias with generate unless an entry exists.
// An existing entry is never replaced: regenerating a live alias loses the
// material every stored ciphertext depends on.
func ensure(backend Backend, alias string, generate func() ([]byte, error)) error {
	ok, err := backend.Has(alias)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	material, err := generate()
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(material)
	return backend.Store(alias, material)
}

// load returns the material for alias; the caller must clear it.
func load(backend Backend, alias string) ([]byte, error) {
	material, err := backend.Load(alias)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, alias)
	}
	return material, err
}

type legacyScheme struct {
	backend Backend
	bits    int
}

func (s *legacyScheme) Mode() Mode {
	return ModeLegacy
}

func (s *legacyScheme) EnsureKey(alias string) error {
	return ensure(s.backend, alias, func() ([]byte, error) {
		return crypto.GenerateRSA(s.bits)
	})
}

func (s *legacyScheme) Encrypt(alias string, plaintext, _ []byte) ([]byte, error) {
	der, err := load(s.backend, alias)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(der)
	return crypto.EncryptOAEP(der, plaintext)
}

func (s *legacyScheme) Decrypt(alias string, ciphertext, _ []byte) ([]byte, error) {
	der, err := load(s.backend, alias)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(der)
	return crypto.DecryptOAEP(der, ciphertext)
}

type modernScheme struct {
	backend Backend
}

func (s *modernScheme) Mode() Mode {
	return ModeModern
}

func (s *modernScheme) EnsureKey(alias string) error {
	return ensure(s.backend, alias, func() ([]byte, error) {
		return crypto.GenerateRandom(crypto.KeySize)
	})
}

func (s *modernScheme) Encrypt(alias string, plaintext, iv []byte) ([]byte, error) {
	key, err := load(s.backend, alias)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(key)
	return crypto.EncryptCBC(key, iv, plaintext)
}

func (s *modernScheme) Decrypt(alias string, ciphertext, iv []byte) ([]byte, error) {
	key, err := load(s.backend, alias)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(key)
	return crypto.DecryptCBC(key, iv, ciphertext)
}
