package keystore

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/illarion/securestore/internal/crypto"
	"github.com/illarion/securestore/internal/platform"
)

// AliasPrefix namespaces every alias this package creates.
const AliasPrefix = "securestore_key_"

// Alias returns the platform alias for a logical key.
func Alias(key string) string {
	return AliasPrefix + key
}

// KeyFromAlias strips AliasPrefix. ok is false for aliases outside the
// namespace.
func KeyFromAlias(alias string) (key string, ok bool) {
	if !strings.HasPrefix(alias, AliasPrefix) {
		return "", false
	}
	return strings.TrimPrefix(alias, AliasPrefix), true
}

// Manager is the platform key manager. Methods take logical keys and map
// them to aliases themselves.
type Manager struct {
	backend Backend
	scheme  Scheme
	retry   *retrier
	logger  *slog.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
		m.retry.logger = logger
	}
}

// WithRetryDelay sets the pause before retrying a transient fault
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) {
		m.retry.delay = d
	}
}

// WithSleep replaces time.Sleep in the retry path
func WithSleep(sleep func(time.Duration)) Option {
	return func(m *Manager) {
		m.retry.sleep = sleep
	}
}

// WithRSABits sets the key size used by the legacy scheme
func WithRSABits(bits int) Option {
	return func(m *Manager) {
		if s, ok := m.scheme.(*legacyScheme); ok {
			s.bits = bits
		}
	}
}

// New creates a Manager over backend, selecting the scheme from profile
func New(backend Backend, profile platform.Profile, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		scheme:  newScheme(ModeFor(profile), backend, crypto.DefaultRSABits),
		retry: &retrier{
			profile: profile,
			delay:   DefaultRetryDelay,
			sleep:   time.Sleep,
			logger:  slog.Default(),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mode returns the scheme in use
func (m *Manager) Mode() Mode {
	return m.scheme.Mode()
}

// EnsureKey provisions key material for key unless it already has some
func (m *Manager) EnsureKey(key string) error {
	alias := Alias(key)
	return fault("ensure key", alias, m.scheme.EnsureKey(alias))
}

// Encrypt provisions the key if needed and encrypts plaintext with it
func (m *Manager) Encrypt(key string, plaintext, iv []byte) ([]byte, error) {
	alias := Alias(key)
	if len(plaintext) > MaxPlaintextSize {
		return nil, fault("encrypt", alias,
			fmt.Errorf("%w: %d > %d bytes", ErrPlaintextTooLarge, len(plaintext), MaxPlaintextSize))
	}

	if err := m.scheme.EnsureKey(alias); err != nil {
		m.logger.Error("failed to provision key", "alias", alias, "error", err)
		return nil, fault("encrypt", alias, err)
	}

	out, err := m.retry.do("encrypt", alias, func() ([]byte, error) {
		return m.scheme.Encrypt(alias, plaintext, iv)
	})
	if err != nil {
		m.logger.Error("encrypt failed", "alias", alias, "error", err)
		return nil, fault("encrypt", alias, err)
	}
	return out, nil
}

// Decrypt decrypts ciphertext with the key's material
func (m *Manager) Decrypt(key string, ciphertext, iv []byte) ([]byte, error) {
	alias := Alias(key)
	out, err := m.retry.do("decrypt", alias, func() ([]byte, error) {
		return m.scheme.Decrypt(alias, ciphertext, iv)
	})
	if err != nil {
		m.logger.Error("decrypt failed", "alias", alias, "error", err)
		return nil, fault("decrypt", alias, err)
	}
	return out, nil
}

// HasKey reports whether key has platform material
func (m *Manager) HasKey(key string) (bool, error) {
	alias := Alias(key)
	ok, err := m.backend.Has(alias)
	return ok, fault("has key", alias, err)
}

// DeleteKey removes key's material. The data it encrypted is lost.
func (m *Manager) DeleteKey(key string) error {
	alias := Alias(key)
	return fault("delete key", alias, m.backend.Delete(alias))
}

// ListAliases returns the aliases inside this package's namespace
func (m *Manager) ListAliases() ([]string, error) {
	all, err := m.backend.Aliases()
	if err != nil {
		return nil, fault("list aliases", "", err)
	}
	aliases := make([]string, 0, len(all))
	for _, alias := range all {
		if strings.HasPrefix(alias, AliasPrefix) {
			aliases = append(aliases, alias)
		}
	}
	return aliases, nil
}

// Wipe deletes every alias in the namespace. Aliases that fail to delete are
// logged and skipped so one bad entry cannot block the rest.
func (m *Manager) Wipe() error {
	aliases, err := m.ListAliases()
	if err != nil {
		return err
	}
	for _, alias := range aliases {
		if err := m.backend.Delete(alias); err != nil {
			m.logger.Error("failed to delete key during wipe", "alias", alias, "error", err)
		}
	}
	return nil
}

// Close releases the backend
func (m *Manager) Close() error {
	return m.backend.Close()
}
