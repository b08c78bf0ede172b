package core

import (
	"errors"
	"fmt"
)

// Kind classifies every error a Store returns
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindKeyStoreCorrupted    // Blob present, platform key missing
	KindPreferencesCorrupted // Platform key present, blob missing
	KindInconsistentMode     // Store stamped by a different storage mode
	KindKeyStoreFault        // Any other platform key store or crypto failure
	KindStorageFault         // Blob store I/O failure
	KindInvalidKey           // Rejected logical key
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindKeyStoreCorrupted:
		return "key store corrupted"
	case KindPreferencesCorrupted:
		return "preferences corrupted"
	case KindInconsistentMode:
		return "inconsistent mode"
	case KindKeyStoreFault:
		return "key store fault"
	case KindStorageFault:
		return "storage fault"
	case KindInvalidKey:
		return "invalid key"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is; each matches any *Error of its kind
var (
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrKeyStoreCorrupted    = &Error{Kind: KindKeyStoreCorrupted}
	ErrPreferencesCorrupted = &Error{Kind: KindPreferencesCorrupted}
	ErrInconsistentMode     = &Error{Kind: KindInconsistentMode}
	ErrKeyStoreFault        = &Error{Kind: KindKeyStoreFault}
	ErrStorageFault         = &Error{Kind: KindStorageFault}
	ErrInvalidKey           = &Error{Kind: KindInvalidKey}
)

// Error is returned by every failing Store operation. Snapshot is set for
// corruption, mode and fault errors.
type Error struct {
	Kind     Kind
	Key      string
	Snapshot *DebugSnapshot
	Err      error
}

func (e *Error) Error() string {
	msg := "securestore: " + e.Kind.String()
	if e.Key != "" {
		msg += fmt.Sprintf(" (key %s)", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind alone
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// SnapshotOf returns the snapshot attached to err, if any
func SnapshotOf(err error) *DebugSnapshot {
	var e *Error
	if errors.As(err, &e) {
		return e.Snapshot
	}
	return nil
}
