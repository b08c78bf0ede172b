package pinlock

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/securestore/internal/core"
	"github.com/illarion/securestore/internal/keystore"
	"github.com/illarion/securestore/internal/log"
	"github.com/illarion/securestore/internal/platform"
	"github.com/illarion/securestore/internal/storage"
)

// fakeStore is an in-memory Store whose Get can be made to fail.
type fakeStore struct {
	values map[string][]byte
	getErr error
	puts   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: make(map[string][]byte)}
}

func (s *fakeStore) Put(key string, value []byte) error {
	s.puts++
	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *fakeStore) Get(key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	v, ok := s.values[key]
	if !ok {
		return nil, &core.Error{Kind: core.KindNotFound, Key: key}
	}
	return v, nil
}

func newStore(t *testing.T) *core.Store {
	t.Helper()
	keys := keystore.New(keystore.NewMemoryBackend(), platform.Default(), keystore.WithLogger(log.Discard()))
	blobs, err := storage.Open(t.TempDir(), keys.Mode().String, storage.WithLogger(log.Discard()))
	require.NoError(t, err)
	s := core.New(keys, blobs, core.WithLogger(log.Discard()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFreshCounterHasAllAttempts(t *testing.T) {
	store := newStore(t)
	c := New(store, log.Discard())

	remaining, err := c.Remaining()
	require.NoError(t, err)
	assert.Equal(t, MaxAttempts, remaining)

	// The missing count was created as zero
	data, err := store.Get(Key)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, data)
}

func TestRecordFailureCapsAtMax(t *testing.T) {
	c := New(newStore(t), log.Discard())

	for want := MaxAttempts - 1; want >= 0; want-- {
		remaining, err := c.RecordFailure()
		require.NoError(t, err)
		assert.Equal(t, want, remaining)
	}

	remaining, err := c.RecordFailure()
	require.NoError(t, err)
	assert.Zero(t, remaining)

	exhausted, err := c.Exhausted()
	require.NoError(t, err)
	assert.True(t, exhausted)

	require.NoError(t, c.Reset())
	remaining, err = c.Remaining()
	require.NoError(t, err)
	assert.Equal(t, MaxAttempts, remaining)
}

func TestStoredAsBigEndianIncorrectCount(t *testing.T) {
	store := newFakeStore()
	c := New(store, log.Discard())

	_, err := c.RecordFailure()
	require.NoError(t, err)
	_, err = c.RecordFailure()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 2}, store.values[Key])
}

func TestInvalidPaddingReadsAsZero(t *testing.T) {
	store := newFakeStore()
	store.values[Key] = []byte{0, 0, 0, 2}
	store.getErr = &core.Error{Kind: core.KindKeyStoreFault, Key: Key,
		Err: fmt.Errorf("keystore: decrypt: %w", keystore.ErrInvalidPadding)}
	c := New(store, log.Discard())

	remaining, err := c.Remaining()
	require.NoError(t, err)
	assert.Equal(t, MaxAttempts, remaining)
}

func TestOtherErrorsPropagate(t *testing.T) {
	for name, getErr := range map[string]error{
		"corrupted":      &core.Error{Kind: core.KindKeyStoreCorrupted, Key: Key},
		"mode":           &core.Error{Kind: core.KindInconsistentMode},
		"keystore fault": &core.Error{Kind: core.KindKeyStoreFault, Err: keystore.ErrTransient},
		"plain":          errors.New("disk on fire"),
	} {
		t.Run(name, func(t *testing.T) {
			store := newFakeStore()
			store.getErr = getErr
			c := New(store, log.Discard())

			_, err := c.Remaining()
			require.ErrorIs(t, err, getErr)
			_, err = c.RecordFailure()
			require.Error(t, err)
			assert.Zero(t, store.puts)
		})
	}
}

func TestMalformedCountIsAnError(t *testing.T) {
	store := newFakeStore()
	store.values[Key] = []byte{1, 2}
	_, err := New(store, log.Discard()).Remaining()
	require.Error(t, err)

	store.values[Key] = []byte{0xff, 0xff, 0xff, 0xff}
	_, err = New(store, log.Discard()).Remaining()
	require.Error(t, err)
}

func TestCountAboveMaxIsClamped(t *testing.T) {
	store := newFakeStore()
	store.values[Key] = []byte{0, 0, 0, 9}

	remaining, err := New(store, nil).Remaining()
	require.NoError(t, err)
	assert.Zero(t, remaining)
}
