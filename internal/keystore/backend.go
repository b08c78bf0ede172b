package keystore

// Backend holds one opaque entry of key material per alias.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Load returns the material for alias, or ErrKeyNotFound.
	Load(alias string) ([]byte, error)

	// Store writes material for alias, replacing any previous entry.
	Store(alias string, material []byte) error

	// Has reports whether alias has an entry.
	Has(alias string) (bool, error)

	// Delete removes the entry for alias. Deleting a missing alias is not
	// an error.
	Delete(alias string) error

	// Aliases lists every alias with an entry.
	Aliases() ([]string, error)

	Close() error
}
