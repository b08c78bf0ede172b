package keystore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/illarion/securestore/internal/crypto"
)

// Bucket names
var (
	fileMetaBucket = []byte("meta") // KDF params and passphrase check - unencrypted
	fileKeysBucket = []byte("keys") // Sealed key material
)

// Meta keys
var (
	metaSalt  = []byte("salt")
	metaIters = []byte("iterations")
	metaCheck = []byte("check")
)

const passphraseCheckString = "securestore-passphrase-check"

// FileBackend stores key material in a bbolt file, each entry sealed with
// AES-256-GCM under a key derived from a passphrase
type FileBackend struct {
	db     *bolt.DB
	sealer *crypto.Sealer
}

// FileOption configures a FileBackend
type FileOption func(*fileOptions)

type fileOptions struct {
	iterations int
}

// WithIterations sets the PBKDF2 iteration count used when the file is
// first created. Existing files keep the count they were created with.
func WithIterations(n int) FileOption {
	return func(o *fileOptions) {
		o.iterations = n
	}
}

// OpenFileBackend opens or creates a key file at path
func OpenFileBackend(path string, passphrase []byte, opts ...FileOption) (*FileBackend, error) {
	o := fileOptions{iterations: crypto.DefaultIters}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file: %w", err)
	}

	kdf, created, err := loadOrCreateKDF(db, o.iterations)
	if err != nil {
		db.Close()
		return nil, err
	}

	key := kdf.DeriveKey(passphrase)
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		crypto.ClearBytes(key)
		db.Close()
		return nil, err
	}

	f := &FileBackend{db: db, sealer: sealer}
	if err := f.checkPassphrase(created); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func loadOrCreateKDF(db *bolt.DB, iterations int) (*crypto.KDF, bool, error) {
	var kdf *crypto.KDF
	var created bool
	err := db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(fileMetaBucket)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", fileMetaBucket, err)
		}
		if _, err := tx.CreateBucketIfNotExists(fileKeysBucket); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", fileKeysBucket, err)
		}

		if salt := meta.Get(metaSalt); salt != nil {
			iters := meta.Get(metaIters)
			if len(iters) != 4 {
				return fmt.Errorf("iterations not found")
			}
			kdf = &crypto.KDF{
				Salt:       append([]byte(nil), salt...),
				Iterations: int(binary.BigEndian.Uint32(iters)),
			}
			return nil
		}

		kdf, err = crypto.NewKDF()
		if err != nil {
			return err
		}
		kdf.Iterations = iterations
		iters := make([]byte, 4)
		binary.BigEndian.PutUint32(iters, uint32(iterations))
		if err := meta.Put(metaSalt, kdf.Salt); err != nil {
			return err
		}
		created = true
		return meta.Put(metaIters, iters)
	})
	return kdf, created, err
}

func (f *FileBackend) checkPassphrase(created bool) error {
	if created {
		check, err := f.sealer.Seal(string(metaCheck), []byte(passphraseCheckString))
		if err != nil {
			return err
		}
		return f.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(fileMetaBucket).Put(metaCheck, check)
		})
	}

	var check []byte
	err := f.db.View(func(tx *bolt.Tx) error {
		check = append([]byte(nil), tx.Bucket(fileMetaBucket).Get(metaCheck)...)
		return nil
	})
	if err != nil {
		return err
	}
	plain, err := f.sealer.Open(string(metaCheck), check)
	if err != nil || string(plain) != passphraseCheckString {
		return ErrWrongPassphrase
	}
	return nil
}

// Load retrieves and unseals material
func (f *FileBackend) Load(alias string) ([]byte, error) {
	var sealed []byte
	err := f.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(fileKeysBucket).Get([]byte(alias))
		if data == nil {
			return ErrKeyNotFound
		}
		// Make a copy since the slice is only valid during the transaction
		sealed = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f.sealer.Open(alias, sealed)
}

// Store seals and writes material
func (f *FileBackend) Store(alias string, material []byte) error {
	sealed, err := f.sealer.Seal(alias, material)
	if err != nil {
		return err
	}
	return f.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(fileKeysBucket).Put([]byte(alias), sealed)
	})
}

// Has checks whether alias has an entry, without unsealing it
func (f *FileBackend) Has(alias string) (bool, error) {
	var ok bool
	err := f.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(fileKeysBucket).Get([]byte(alias)) != nil
		return nil
	})
	return ok, err
}

// Delete removes an entry
func (f *FileBackend) Delete(alias string) error {
	return f.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(fileKeysBucket).Delete([]byte(alias))
	})
}

// Aliases returns all aliases in key order
func (f *FileBackend) Aliases() ([]string, error) {
	var aliases []string
	err := f.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(fileKeysBucket).ForEach(func(k, v []byte) error {
			aliases = append(aliases, string(k))
			return nil
		})
	})
	sort.Strings(aliases)
	return aliases, err
}

// Close wipes the sealing key and closes the file
func (f *FileBackend) Close() error {
	f.sealer.Destroy()
	return f.db.Close()
}

// IsWrongPassphrase reports whether err came from opening a key file with
// the wrong passphrase.
func IsWrongPassphrase(err error) bool {
	return errors.Is(err, ErrWrongPassphrase)
}
