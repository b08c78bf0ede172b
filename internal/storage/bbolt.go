package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/illarion/securestore/internal/crypto"
)

const (
	DataFile  = "secure-storage.db"
	AuditFile = "audit-trail.db"

	IVSize     = 16
	IVPrefix   = "aes_iv_"
	DirPerm    = 0700
	FilePerm   = 0600
	timeFormat = "2006-01-02T15:04:05.000Z07:00"
)

// Bucket names
var (
	EntriesBucket = []byte("secure-storage") // Ciphertext and IVs
	ConfigBucket  = []byte("config")         // Mode stamp
	AuditBucket   = []byte("audit-trail")    // Audit lines
)

// Fixed keys
var (
	ConfigMode = []byte("mode")
	AuditKey   = []byte("audit-trail")
)

// Audit operations
const (
	OpPut    = "PUT"
	OpDelete = "DELETE"
	OpWipe   = "WIPE"
)

var (
	ErrNotFound = errors.New("entry not found")
	ErrClosed   = errors.New("storage is closed")
)

// IVSizeError reports a persisted IV whose length differs from the one
// requested. Such an IV cannot be used and is never replaced silently.
type IVSizeError struct {
	Key  string
	Have int
	Want int
}

func (e *IVSizeError) Error() string {
	return fmt.Sprintf("IV for key %s has size %d != %d", e.Key, e.Have, e.Want)
}

// Storage is the blob store. liveMode reports the storage mode the process
// runs in; it is stamped on first write and compared on every check.
type Storage struct {
	db       *bolt.DB
	audit    *bolt.DB
	liveMode func() string
	now      func() time.Time
	logger   *slog.Logger

	// mu guards the db and audit handles, which Compact replaces. Both are
	// nil once closed.
	mu sync.RWMutex

	// ivMu serializes IV creation so the persisted IV is the one returned
	ivMu sync.Mutex
}

// Option configures a Storage
type Option func(*Storage)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		s.logger = logger
	}
}

// WithClock replaces time.Now for audit timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		s.now = now
	}
}

// Open opens or creates the store in dir
func Open(dir string, liveMode func() string, opts ...Option) (*Storage, error) {
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := openDB(filepath.Join(dir, DataFile), EntriesBucket, ConfigBucket)
	if err != nil {
		return nil, err
	}
	audit, err := openDB(filepath.Join(dir, AuditFile), AuditBucket)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Storage{
		db:       db,
		audit:    audit,
		liveMode: liveMode,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func openDB(path string, buckets ...[]byte) (*bolt.DB, error) {
	db, err := bolt.Open(path, FilePerm, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close closes both databases. Later calls fail with ErrClosed.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown()
}

// shutdown closes whichever handles are still open. Callers hold mu.
func (s *Storage) shutdown() error {
	var errs []error
	for _, db := range []*bolt.DB{s.db, s.audit} {
		if db != nil {
			errs = append(errs, db.Close())
		}
	}
	s.db, s.audit = nil, nil
	return errors.Join(errs...)
}

// view and update run fn against the data database, auditView and
// auditUpdate against the audit database, holding the handle steady.
func (s *Storage) view(fn func(*bolt.Tx) error) error {
	return s.with(func() *bolt.DB { return s.db }, (*bolt.DB).View, fn)
}

func (s *Storage) update(fn func(*bolt.Tx) error) error {
	return s.with(func() *bolt.DB { return s.db }, (*bolt.DB).Update, fn)
}

func (s *Storage) auditView(fn func(*bolt.Tx) error) error {
	return s.with(func() *bolt.DB { return s.audit }, (*bolt.DB).View, fn)
}

func (s *Storage) auditUpdate(fn func(*bolt.Tx) error) error {
	return s.with(func() *bolt.DB { return s.audit }, (*bolt.DB).Update, fn)
}

func (s *Storage) with(handle func() *bolt.DB, run func(*bolt.DB, func(*bolt.Tx) error) error, fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db := handle()
	if db == nil {
		return ErrClosed
	}
	return run(db, fn)
}

// ivKey returns the entry key holding key's IV
func ivKey(key string) []byte {
	return []byte(IVPrefix + key)
}

// stampMode records the live mode unless a stamp already exists. Called from
// every write transaction so the stamp reflects the first write.
func (s *Storage) stampMode(tx *bolt.Tx) error {
	config := tx.Bucket(ConfigBucket)
	if config.Get(ConfigMode) != nil {
		return nil
	}
	return config.Put(ConfigMode, []byte(s.liveMode()))
}

// GetOrCreateIV returns the persisted IV for key, creating size random
// bytes on first use. The IV is permanent for the key once created.
func (s *Storage) GetOrCreateIV(key string, size int) ([]byte, error) {
	s.ivMu.Lock()
	defer s.ivMu.Unlock()

	var iv []byte
	err := s.update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(EntriesBucket)
		if existing := entries.Get(ivKey(key)); existing != nil {
			// Fail early with context; a wrong-sized IV surfaces later as an
			// opaque cipher error otherwise
			if len(existing) != size {
				return &IVSizeError{Key: key, Have: len(existing), Want: size}
			}
			iv = append([]byte(nil), existing...)
			return nil
		}

		fresh, err := crypto.GenerateRandom(size)
		if err != nil {
			return err
		}
		if err := s.stampMode(tx); err != nil {
			return err
		}
		if err := entries.Put(ivKey(key), fresh); err != nil {
			return err
		}
		iv = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return iv, nil
}

// GetIV returns the persisted IV for key without creating one
func (s *Storage) GetIV(key string) ([]byte, error) {
	return s.get(ivKey(key))
}

// Put stores ciphertext for key. The transaction is committed to disk
// before Put returns.
func (s *Storage) Put(key string, ciphertext []byte) error {
	return s.update(func(tx *bolt.Tx) error {
		if err := s.stampMode(tx); err != nil {
			return err
		}
		return tx.Bucket(EntriesBucket).Put([]byte(key), ciphertext)
	})
}

// Get retrieves the ciphertext for key
func (s *Storage) Get(key string) ([]byte, error) {
	return s.get([]byte(key))
}

func (s *Storage) get(key []byte) ([]byte, error) {
	var data []byte
	err := s.view(func(tx *bolt.Tx) error {
		value := tx.Bucket(EntriesBucket).Get(key)
		if value == nil {
			return ErrNotFound
		}
		// Make a copy since the slice is only valid during the transaction
		data = append([]byte(nil), value...)
		return nil
	})
	return data, err
}

// Has reports whether ciphertext exists for key
func (s *Storage) Has(key string) (bool, error) {
	var ok bool
	err := s.view(func(tx *bolt.Tx) error {
		ok = tx.Bucket(EntriesBucket).Get([]byte(key)) != nil
		return nil
	})
	return ok, err
}

// Delete removes the ciphertext for key. The IV stays: it belongs to the
// key for good, and a later Put reuses it.
func (s *Storage) Delete(key string) error {
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(EntriesBucket).Delete([]byte(key))
	})
}

// Wipe clears every entry, the mode stamp and the audit trail
func (s *Storage) Wipe() error {
	err := s.update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{EntriesBucket, ConfigBucket} {
			if err := tx.DeleteBucket(bucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to wipe entries: %w", err)
	}

	err = s.auditUpdate(func(tx *bolt.Tx) error {
		return tx.Bucket(AuditBucket).Delete(AuditKey)
	})
	if err != nil {
		return fmt.Errorf("failed to wipe audit trail: %w", err)
	}
	return nil
}

// Mode returns the stamped mode, or "" if nothing was ever written
func (s *Storage) Mode() (string, error) {
	var mode string
	err := s.view(func(tx *bolt.Tx) error {
		mode = string(tx.Bucket(ConfigBucket).Get(ConfigMode))
		return nil
	})
	return mode, err
}

// SetModeStamp overwrites the mode stamp. Used to migrate a store to a new
// platform after its data has been re-encrypted, and to simulate a platform
// upgrade in tests.
func (s *Storage) SetModeStamp(mode string) error {
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(ConfigBucket).Put(ConfigMode, []byte(mode))
	})
}

// IsCompatibleFormat reports whether the store is unstamped or stamped with
// the live mode
func (s *Storage) IsCompatibleFormat() (bool, error) {
	mode, err := s.Mode()
	if err != nil {
		return false, err
	}
	return mode == "" || mode == s.liveMode(), nil
}

// Labels lists the logical keys holding ciphertext
func (s *Storage) Labels() ([]string, error) {
	return s.labels(func(k string) (string, bool) {
		return k, !strings.HasPrefix(k, IVPrefix)
	})
}

// IVLabels lists the logical keys holding an IV
func (s *Storage) IVLabels() ([]string, error) {
	return s.labels(func(k string) (string, bool) {
		return strings.TrimPrefix(k, IVPrefix), strings.HasPrefix(k, IVPrefix)
	})
}

func (s *Storage) labels(match func(string) (string, bool)) ([]string, error) {
	labels := []string{}
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(EntriesBucket).ForEach(func(k, v []byte) error {
			if label, ok := match(string(k)); ok {
				labels = append(labels, label)
			}
			return nil
		})
	})
	sort.Strings(labels)
	return labels, err
}

// RecordAudit appends "<timestamp> <op> <key>" to the audit trail. Failures
// are logged and dropped: the audit trail must never block the operation it
// describes.
func (s *Storage) RecordAudit(op, key string) {
	line := fmt.Sprintf("%s %s %s", s.now().UTC().Format(timeFormat), op, key)

	err := s.auditUpdate(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(AuditBucket)
		trail, err := decodeTrail(bucket.Get(AuditKey))
		if err != nil {
			return err
		}
		data, err := json.Marshal(append(trail, line))
		if err != nil {
			return err
		}
		return bucket.Put(AuditKey, data)
	})
	if err != nil {
		s.logger.Error("failed to record audit trail", "op", op, "key", key, "error", err)
	}
}

// AuditTrail returns the audit lines, oldest first
func (s *Storage) AuditTrail() ([]string, error) {
	var trail []string
	err := s.auditView(func(tx *bolt.Tx) error {
		var err error
		trail, err = decodeTrail(tx.Bucket(AuditBucket).Get(AuditKey))
		return err
	})
	return trail, err
}

func decodeTrail(data []byte) ([]string, error) {
	trail := []string{}
	if data == nil {
		return trail, nil
	}
	if err := json.Unmarshal(data, &trail); err != nil {
		return nil, fmt.Errorf("corrupt audit trail: %w", err)
	}
	return trail, nil
}

// Compact rewrites both database files, reclaiming the space left by
// deleted entries. Reads and writes wait until it is done. If a file cannot
// be reopened the store is closed and every later call fails with ErrClosed.
func (s *Storage) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return ErrClosed
	}
	for _, handle := range []**bolt.DB{&s.db, &s.audit} {
		db, err := compactDB(*handle)
		*handle = db
		if db == nil {
			return errors.Join(err, s.shutdown())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// compactDB copies src into a fresh file and swaps it in. The returned
// handle replaces src, which is closed.
func compactDB(src *bolt.DB) (*bolt.DB, error) {
	srcPath := src.Path()
	tmpPath := srcPath + ".compact"

	// Create new database
	dst, err := bolt.Open(tmpPath, FilePerm, nil)
	if err != nil {
		return src, fmt.Errorf("failed to create compact database: %w", err)
	}

	// Copy all buckets
	err = src.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return src, fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return src, fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := src.Close(); err != nil {
		os.Remove(tmpPath)
		return src, fmt.Errorf("failed to close source database: %w", err)
	}

	// Atomic replace
	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		return reopen(srcPath, fmt.Errorf("failed to backup original: %w", err))
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		return reopen(srcPath, fmt.Errorf("failed to replace database: %w", err))
	}
	os.Remove(backupPath)

	return reopen(srcPath, nil)
}

func reopen(path string, cause error) (*bolt.DB, error) {
	db, err := bolt.Open(path, FilePerm, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Join(cause, fmt.Errorf("failed to reopen database: %w", err))
	}
	return db, cause
}
