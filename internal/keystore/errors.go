package keystore

import (
	"errors"
	"fmt"

	"github.com/illarion/securestore/internal/crypto"
)

var (
	ErrKeyNotFound       = errors.New("key not found")
	ErrTransient         = errors.New("transient key store fault")
	ErrPlaintextTooLarge = errors.New("plaintext too large")
	ErrWrongPassphrase   = errors.New("wrong passphrase")

	// ErrInvalidPadding marks ciphertext that decrypted to garbage, which is
	// what corrupted ciphertext or key material looks like under CBC.
	ErrInvalidPadding = crypto.ErrInvalidPadding
)

// Fault wraps any error raised by a key store operation.
type Fault struct {
	Op    string
	Alias string
	Err   error
}

func (f *Fault) Error() string {
	if f.Alias == "" {
		return fmt.Sprintf("keystore: %s: %v", f.Op, f.Err)
	}
	return fmt.Sprintf("keystore: %s %s: %v", f.Op, f.Alias, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func fault(op, alias string, err error) error {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return err
	}
	return &Fault{Op: op, Alias: alias, Err: err}
}
