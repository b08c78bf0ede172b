package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/illarion/securestore/internal/keystore"
	"github.com/illarion/securestore/internal/security"
	"github.com/illarion/securestore/internal/storage"
)

// WipeLabel is the key recorded in the audit trail for Wipe
const WipeLabel = security.ReservedKey

// Store is the secure store. It is safe for concurrent use.
type Store struct {
	keys      *keystore.Manager
	blobs     *storage.Storage
	validator *security.KeyValidator
	logger    *slog.Logger

	// mu guards provisioning and membership changes. Reads take it only to
	// settle a one-sided lookup.
	mu sync.Mutex
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Store over a key manager and a blob store. The blob store
// must have been opened with keys' mode as its live mode.
func New(keys *keystore.Manager, blobs *storage.Storage, opts ...Option) *Store {
	s := &Store{
		keys:      keys,
		blobs:     blobs,
		validator: security.New(storage.IVPrefix),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode returns the storage mode this process runs in
func (s *Store) Mode() keystore.Mode {
	return s.keys.Mode()
}

// Put encrypts plaintext under key, provisioning the key's platform
// material on first use. Existing material is never regenerated.
func (s *Store) Put(key string, plaintext []byte) error {
	if err := s.validate(key); err != nil {
		return err
	}
	if len(plaintext) > keystore.MaxPlaintextSize {
		return &Error{Kind: KindKeyStoreFault, Key: key, Err: fmt.Errorf("%w: %d > %d bytes",
			keystore.ErrPlaintextTooLarge, len(plaintext), keystore.MaxPlaintextSize)}
	}
	if err := s.checkMode(); err != nil {
		return err
	}

	// Held through the write: a key and its blob appear together, and a
	// failed first write can drop the key without racing another writer
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.provision(key)
	if err != nil {
		return s.fail(KindKeyStoreFault, key, err)
	}
	if err := s.write(key, plaintext); err != nil {
		if created {
			s.rollback(key)
		}
		return err
	}
	return nil
}

// provision creates key's platform material if it has none and reports
// whether it did. Callers hold mu.
func (s *Store) provision(key string) (bool, error) {
	ok, err := s.keys.HasKey(key)
	if err != nil || ok {
		return false, err
	}
	if err := s.keys.EnsureKey(key); err != nil {
		// The backend may have kept the entry before failing
		s.rollback(key)
		return false, err
	}
	s.logger.Debug("provisioned platform key", "key", key, "mode", s.keys.Mode().String())
	return true, nil
}

func (s *Store) write(key string, plaintext []byte) error {
	iv, err := s.blobs.GetOrCreateIV(key, storage.IVSize)
	if err != nil {
		return s.fail(KindStorageFault, key, err)
	}
	ciphertext, err := s.keys.Encrypt(key, plaintext, iv)
	if err != nil {
		return s.fail(KindKeyStoreFault, key, err)
	}
	if err := s.blobs.Put(key, ciphertext); err != nil {
		return s.fail(KindStorageFault, key, err)
	}
	s.blobs.RecordAudit(storage.OpPut, key)
	return nil
}

func (s *Store) rollback(key string) {
	if err := s.keys.DeleteKey(key); err != nil {
		s.logger.Error("failed to drop key after failed first write", "key", key, "error", err)
	}
}

// Get decrypts the value stored under key
func (s *Store) Get(key string) ([]byte, error) {
	if err := s.validate(key); err != nil {
		return nil, err
	}
	if err := s.checkMode(); err != nil {
		return nil, err
	}

	inBlobs, inKeys, err := s.presence(key)
	if err != nil {
		return nil, err
	}
	switch {
	case !inBlobs && !inKeys:
		return nil, &Error{Kind: KindNotFound, Key: key}
	case !inBlobs:
		s.logger.Warn("platform key without stored value", "key", key)
		return nil, s.fail(KindPreferencesCorrupted, key, nil)
	case !inKeys:
		s.logger.Warn("stored value without platform key", "key", key)
		return nil, s.fail(KindKeyStoreCorrupted, key, nil)
	}

	ciphertext, err := s.blobs.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted since the presence check
		return nil, &Error{Kind: KindNotFound, Key: key}
	}
	if err != nil {
		return nil, s.fail(KindStorageFault, key, err)
	}
	iv, err := s.blobs.GetIV(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, s.fail(KindStorageFault, key, err)
		}
		// The legacy scheme ignores the IV
		if s.keys.Mode() == keystore.ModeModern {
			return nil, s.fail(KindPreferencesCorrupted, key, fmt.Errorf("missing IV"))
		}
	}

	plaintext, err := s.keys.Decrypt(key, ciphertext, iv)
	if errors.Is(err, keystore.ErrKeyNotFound) {
		// Deleted since the blob was read
		if inBlobs, inKeys, perr := s.presence(key); perr == nil && !inBlobs && !inKeys {
			return nil, &Error{Kind: KindNotFound, Key: key}
		}
	}
	if err != nil {
		return nil, s.fail(KindKeyStoreFault, key, err)
	}
	return plaintext, nil
}

// Has reports whether key holds a value. It panics with an *Error if only
// one of the two stores knows the key: that state is unreachable through
// this API and means the stores were corrupted from outside.
func (s *Store) Has(key string) (bool, error) {
	if err := s.validate(key); err != nil {
		return false, err
	}
	inBlobs, inKeys, err := s.presence(key)
	if err != nil {
		return false, err
	}
	if inBlobs != inKeys {
		kind := KindKeyStoreCorrupted
		if inKeys {
			kind = KindPreferencesCorrupted
		}
		panic(&Error{
			Kind:     kind,
			Key:      key,
			Snapshot: s.DebugSnapshot(),
			Err:      fmt.Errorf("illegal state: in blob store %t, in key store %t", inBlobs, inKeys),
		})
	}
	return inBlobs, nil
}

// presence reports which stores know key. Put, Delete and Wipe pass through
// a one-sided state while holding mu, so a one-sided answer is checked again
// under mu before anyone treats it as corruption.
func (s *Store) presence(key string) (inBlobs, inKeys bool, err error) {
	inBlobs, inKeys, err = s.lookup(key)
	if err != nil || inBlobs == inKeys {
		return inBlobs, inKeys, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(key)
}

func (s *Store) lookup(key string) (inBlobs, inKeys bool, err error) {
	if inBlobs, err = s.blobs.Has(key); err != nil {
		return false, false, s.fail(KindStorageFault, key, err)
	}
	if inKeys, err = s.keys.HasKey(key); err != nil {
		return false, false, s.fail(KindKeyStoreFault, key, err)
	}
	return inBlobs, inKeys, nil
}

// Delete removes key from both stores. Both removals are attempted even if
// the first fails; removing an absent key is not an error.
func (s *Store) Delete(key string) error {
	if err := s.validate(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := s.blobs.Delete(key); err != nil {
		errs = append(errs, s.fail(KindStorageFault, key, err))
	}
	if err := s.keys.DeleteKey(key); err != nil {
		errs = append(errs, s.fail(KindKeyStoreFault, key, err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.blobs.RecordAudit(storage.OpDelete, key)
	return nil
}

// Wipe removes every key from both stores and clears the audit trail. The
// WIPE line is recorded first and goes with the rest.
func (s *Store) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs.RecordAudit(storage.OpWipe, WipeLabel)

	var errs []error
	if err := s.blobs.Wipe(); err != nil {
		errs = append(errs, s.fail(KindStorageFault, "", err))
	}
	if err := s.keys.Wipe(); err != nil {
		errs = append(errs, s.fail(KindKeyStoreFault, "", err))
	}
	return errors.Join(errs...)
}

// Compact reclaims space in the blob store files
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.blobs.Compact(); err != nil {
		return &Error{Kind: KindStorageFault, Err: err}
	}
	return nil
}

// DebugSnapshot gathers labels from both stores and the audit trail. Read
// failures are logged and leave the affected field empty; a key store
// failure is reported in KeystoreError.
func (s *Store) DebugSnapshot() *DebugSnapshot {
	snap := &DebugSnapshot{
		Mode:       s.keys.Mode().String(),
		Labels:     []string{},
		IVLabels:   []string{},
		AuditTrail: []string{},
	}

	if mode, err := s.blobs.Mode(); err != nil {
		s.logger.Error("snapshot: failed to read mode stamp", "error", err)
	} else if mode != "" {
		snap.Mode = mode
	}
	if ok, err := s.blobs.IsCompatibleFormat(); err != nil {
		s.logger.Error("snapshot: failed to check format", "error", err)
	} else {
		snap.IsCompatible = ok
	}
	if labels, err := s.blobs.Labels(); err != nil {
		s.logger.Error("snapshot: failed to list labels", "error", err)
	} else {
		snap.Labels = labels
	}
	if labels, err := s.blobs.IVLabels(); err != nil {
		s.logger.Error("snapshot: failed to list IV labels", "error", err)
	} else {
		snap.IVLabels = labels
	}
	if trail, err := s.blobs.AuditTrail(); err != nil {
		s.logger.Error("snapshot: failed to read audit trail", "error", err)
	} else {
		snap.AuditTrail = trail
	}

	aliases, err := s.keys.ListAliases()
	if err != nil {
		snap.KeystoreError = err.Error()
		return snap
	}
	snap.KeystoreLabels = make([]string, 0, len(aliases))
	for _, alias := range aliases {
		if key, ok := keystore.KeyFromAlias(alias); ok {
			snap.KeystoreLabels = append(snap.KeystoreLabels, key)
		}
	}
	sort.Strings(snap.KeystoreLabels)
	return snap
}

// Close releases both stores
func (s *Store) Close() error {
	return errors.Join(s.keys.Close(), s.blobs.Close())
}

func (s *Store) validate(key string) error {
	if err := s.validator.Validate(key); err != nil {
		return &Error{Kind: KindInvalidKey, Key: key, Err: err}
	}
	return nil
}

func (s *Store) checkMode() error {
	ok, err := s.blobs.IsCompatibleFormat()
	if err != nil {
		return s.fail(KindStorageFault, "", err)
	}
	if ok {
		return nil
	}
	snap := s.DebugSnapshot()
	s.logger.Warn("store written in another mode", "stamped", snap.Mode, "live", s.keys.Mode().String())
	return &Error{
		Kind:     KindInconsistentMode,
		Snapshot: snap,
		Err:      fmt.Errorf("store written in %s mode, running in %s", snap.Mode, s.keys.Mode()),
	}
}

func (s *Store) fail(kind Kind, key string, err error) error {
	return &Error{Kind: kind, Key: key, Snapshot: s.DebugSnapshot(), Err: err}
}
