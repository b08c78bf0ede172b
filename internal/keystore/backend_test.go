package keystore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// exerciseBackend checks the Backend contract shared by every implementation.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()

	_, err := b.Load("securestore_key_a")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	has, err := b.Has("securestore_key_a")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, b.Store("securestore_key_a", []byte{1, 2, 3}))
	require.NoError(t, b.Store("securestore_key_b", []byte{4}))

	material, err := b.Load("securestore_key_a")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, material)

	has, err = b.Has("securestore_key_a")
	require.NoError(t, err)
	assert.True(t, has)

	aliases, err := b.Aliases()
	require.NoError(t, err)
	assert.Equal(t, []string{"securestore_key_a", "securestore_key_b"}, aliases)

	require.NoError(t, b.Delete("securestore_key_a"))
	require.NoError(t, b.Delete("securestore_key_a"))

	aliases, err = b.Aliases()
	require.NoError(t, err)
	assert.Equal(t, []string{"securestore_key_b"}, aliases)
}

func TestMemoryBackend(t *testing.T) {
	b := NewMemoryBackend()
	exerciseBackend(t, b)

	require.NoError(t, b.Close())
	_, err := b.Load("securestore_key_b")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestKeyringBackend(t *testing.T) {
	keyring.MockInit()

	b := NewKeyringBackend("securestore-test")
	exerciseBackend(t, b)

	assert.Error(t, b.Store(indexUser, []byte("x")))
}

func TestKeyringBackendSkipsEntriesRemovedExternally(t *testing.T) {
	keyring.MockInit()

	b := NewKeyringBackend("securestore-test")
	require.NoError(t, b.Store("securestore_key_a", []byte{1}))
	require.NoError(t, b.Store("securestore_key_b", []byte{2}))

	require.NoError(t, keyring.Delete("securestore-test", "securestore_key_a"))

	aliases, err := b.Aliases()
	require.NoError(t, err)
	assert.Equal(t, []string{"securestore_key_b"}, aliases)
}

func TestKeyringBackendDropsEntryWhenIndexFails(t *testing.T) {
	keyring.MockInit()

	b := NewKeyringBackend("securestore-test")
	require.NoError(t, keyring.Set("securestore-test", indexUser, "{not json"))

	require.Error(t, b.Store("securestore_key_a", []byte{1}))
	_, err := keyring.Get("securestore-test", "securestore_key_a")
	assert.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestKeyringBackendMapsErrors(t *testing.T) {
	b := NewKeyringBackend("")

	keyring.MockInitWithError(errors.New("org.freedesktop.DBus.Error.NoReply: timeout"))
	_, err := b.Load("securestore_key_a")
	assert.ErrorIs(t, err, ErrTransient)

	keyring.MockInitWithError(errors.New("access denied"))
	_, err = b.Load("securestore_key_a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTransient)

	keyring.MockInit()
}

func TestFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keystore.db")

	b, err := OpenFileBackend(path, []byte("passphrase"), WithIterations(1000))
	require.NoError(t, err)
	exerciseBackend(t, b)
	require.NoError(t, b.Close())

	// Reopen with the right passphrase
	b, err = OpenFileBackend(path, []byte("passphrase"))
	require.NoError(t, err)
	material, err := b.Load("securestore_key_b")
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, material)
	require.NoError(t, b.Close())

	// Reopen with the wrong one
	_, err = OpenFileBackend(path, []byte("wrong"))
	assert.True(t, IsWrongPassphrase(err))
}
