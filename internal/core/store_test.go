package core

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/securestore/internal/keystore"
	"github.com/illarion/securestore/internal/log"
	"github.com/illarion/securestore/internal/platform"
	"github.com/illarion/securestore/internal/storage"
)

var (
	modernProfile    = platform.Profile{Level: 30}
	legacyProfile    = platform.Profile{Level: 21}
	transientProfile = platform.Profile{Level: platform.TransientFaultLevel}
)

// flakyBackend counts stores and injects failures into Load, Store and
// Aliases. A Store failure keeps the entry, like a keyring whose index
// update fails after the secret was set.
type flakyBackend struct {
	*keystore.MemoryBackend

	mu         sync.Mutex
	stores     map[string]int
	loadErrs   []error
	storeErr   error
	aliasesErr error
}

func newFlakyBackend() *flakyBackend {
	return &flakyBackend{MemoryBackend: keystore.NewMemoryBackend(), stores: make(map[string]int)}
}

func (b *flakyBackend) Store(alias string, material []byte) error {
	b.mu.Lock()
	b.stores[alias]++
	err := b.storeErr
	b.mu.Unlock()
	if stored := b.MemoryBackend.Store(alias, material); stored != nil {
		return stored
	}
	return err
}

func (b *flakyBackend) Load(alias string) ([]byte, error) {
	b.mu.Lock()
	if len(b.loadErrs) > 0 {
		err := b.loadErrs[0]
		b.loadErrs = b.loadErrs[1:]
		b.mu.Unlock()
		return nil, err
	}
	b.mu.Unlock()
	return b.MemoryBackend.Load(alias)
}

func (b *flakyBackend) Aliases() ([]string, error) {
	b.mu.Lock()
	err := b.aliasesErr
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return b.MemoryBackend.Aliases()
}

func (b *flakyBackend) failLoads(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loadErrs = append(b.loadErrs, errs...)
}

func (b *flakyBackend) storeCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stores[keystore.Alias(key)]
}

type fixture struct {
	store   *Store
	blobs   *storage.Storage
	backend *flakyBackend
	sleeps  int
}

var auditTime = time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC)

func newFixture(t *testing.T, profile platform.Profile) *fixture {
	t.Helper()
	f := &fixture{backend: newFlakyBackend()}

	keys := keystore.New(f.backend, profile,
		keystore.WithLogger(log.Discard()),
		keystore.WithRSABits(2048),
		keystore.WithSleep(func(time.Duration) { f.sleeps++ }),
	)
	blobs, err := storage.Open(t.TempDir(), keys.Mode().String,
		storage.WithLogger(log.Discard()),
		storage.WithClock(func() time.Time { return auditTime }),
	)
	require.NoError(t, err)

	f.blobs = blobs
	f.store = New(keys, blobs, WithLogger(log.Discard()))
	t.Cleanup(func() { _ = f.store.Close() })
	return f
}

func TestRoundTrip(t *testing.T) {
	for name, profile := range map[string]platform.Profile{"modern": modernProfile, "legacy": legacyProfile} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, profile)

			payloads := map[string][]byte{
				"empty":  {},
				"short":  []byte("abc"),
				"binary": {0x00, 0xff, 0x10, 0x80},
				"block":  bytes.Repeat([]byte{0x42}, 16),
				"long":   bytes.Repeat([]byte("x"), 150),
			}
			for key, p := range payloads {
				require.NoError(t, f.store.Put(key, p))
			}
			for key, p := range payloads {
				got, err := f.store.Get(key)
				require.NoError(t, err, key)
				assert.Equal(t, p, got, key)
			}
		})
	}
}

func TestPutNeverRegeneratesKey(t *testing.T) {
	f := newFixture(t, modernProfile)

	require.NoError(t, f.store.Put("k", []byte("first")))
	require.NoError(t, f.store.Put("k", []byte("second")))

	assert.Equal(t, 1, f.backend.storeCount("k"))
	got, err := f.store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestSmallThenLargePayload(t *testing.T) {
	f := newFixture(t, modernProfile)

	small := []byte{1, 2, 3, 4}
	large := bytes.Repeat([]byte{0xab}, 400)

	require.NoError(t, f.store.Put("k", small))
	got, err := f.store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, small, got)

	require.NoError(t, f.store.Put("k", large))
	got, err = f.store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, large, got)

	assert.Equal(t, 1, f.backend.storeCount("k"))
}

func TestServerJWTScenario(t *testing.T) {
	f := newFixture(t, modernProfile)

	require.NoError(t, f.store.Put("server_jwt", []byte("abc")))
	got, err := f.store.Get("server_jwt")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	snap := f.store.DebugSnapshot()
	assert.Contains(t, snap.Labels, "server_jwt")
	assert.Contains(t, snap.IVLabels, "server_jwt")
	assert.Contains(t, snap.KeystoreLabels, "server_jwt")
	assert.Equal(t, "MODERN", snap.Mode)
	assert.True(t, snap.IsCompatible)
	assert.Equal(t, []string{"2026-01-02T03:04:05.006Z PUT server_jwt"}, snap.AuditTrail)

	require.NoError(t, f.store.Wipe())
	ok, err := f.store.Has("server_jwt")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.store.DebugSnapshot().AuditTrail)
}

func TestConsistencyAfterRandomOperations(t *testing.T) {
	f := newFixture(t, modernProfile)
	keys := []string{"a", "b", "c", "d"}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 60; i++ {
		key := keys[rng.Intn(len(keys))]
		switch op := rng.Intn(10); {
		case op < 6:
			require.NoError(t, f.store.Put(key, []byte(fmt.Sprintf("v%d", i))))
		case op < 9:
			require.NoError(t, f.store.Delete(key))
		default:
			require.NoError(t, f.store.Wipe())
		}

		for _, k := range keys {
			inBlobs, err := f.blobs.Has(k)
			require.NoError(t, err)
			inKeys, err := f.backend.Has(keystore.Alias(k))
			require.NoError(t, err)
			require.Equal(t, inBlobs, inKeys, "key %s after step %d", k, i)

			has, err := f.store.Has(k)
			require.NoError(t, err)
			require.Equal(t, inBlobs, has)
		}
	}
}

func TestModeStability(t *testing.T) {
	f := newFixture(t, modernProfile)

	require.NoError(t, f.store.Put("k", []byte("v")))
	ok, err := f.blobs.IsCompatibleFormat()
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.blobs.SetModeStamp(keystore.ModeLegacy.String()))

	err = f.store.Put("k", []byte("v2"))
	require.ErrorIs(t, err, ErrInconsistentMode)
	snap := SnapshotOf(err)
	require.NotNil(t, snap)
	assert.False(t, snap.IsCompatible)
	assert.Equal(t, "LEGACY", snap.Mode)

	_, err = f.store.Get("k")
	assert.Equal(t, KindInconsistentMode, KindOf(err))
}

func TestCorruptionDetection(t *testing.T) {
	t.Run("platform key missing", func(t *testing.T) {
		f := newFixture(t, modernProfile)
		require.NoError(t, f.store.Put("k", []byte("v")))
		require.NoError(t, f.backend.Delete(keystore.Alias("k")))

		_, err := f.store.Get("k")
		require.ErrorIs(t, err, ErrKeyStoreCorrupted)
		snap := SnapshotOf(err)
		require.NotNil(t, snap)
		assert.Equal(t, "- k\n", snap.LabelDiff())

		assertHasPanics(t, f.store, "k", KindKeyStoreCorrupted)
	})

	t.Run("blob missing", func(t *testing.T) {
		f := newFixture(t, modernProfile)
		require.NoError(t, f.store.Put("k", []byte("v")))
		require.NoError(t, f.blobs.Delete("k"))

		_, err := f.store.Get("k")
		require.ErrorIs(t, err, ErrPreferencesCorrupted)
		assert.Equal(t, "+ k\n", SnapshotOf(err).LabelDiff())

		assertHasPanics(t, f.store, "k", KindPreferencesCorrupted)
	})

	t.Run("corrupted ciphertext", func(t *testing.T) {
		f := newFixture(t, modernProfile)
		require.NoError(t, f.store.Put("k", []byte("v")))
		require.NoError(t, f.blobs.Put("k", bytes.Repeat([]byte{0x01}, 15)))

		_, err := f.store.Get("k")
		require.ErrorIs(t, err, ErrKeyStoreFault)
		assert.NotNil(t, SnapshotOf(err))
	})
}

func assertHasPanics(t *testing.T, s *Store, key string, kind Kind) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "Has should panic")
		e, ok := r.(*Error)
		require.True(t, ok, "panic value %T", r)
		assert.Equal(t, kind, e.Kind)
		assert.NotNil(t, e.Snapshot)
	}()
	_, _ = s.Has(key)
}

func TestGetMissing(t *testing.T) {
	f := newFixture(t, modernProfile)

	_, err := f.store.Get("nope")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))

	ok, err := f.store.Has("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIVDeterminism(t *testing.T) {
	f := newFixture(t, modernProfile)

	iv1, err := f.blobs.GetOrCreateIV("k", storage.IVSize)
	require.NoError(t, err)
	iv2, err := f.blobs.GetOrCreateIV("k", storage.IVSize)
	require.NoError(t, err)
	assert.Len(t, iv1, 16)
	assert.Equal(t, iv1, iv2)

	_, err = f.blobs.GetOrCreateIV("k", 12)
	var sizeErr *storage.IVSizeError
	require.ErrorAs(t, err, &sizeErr)

	// Put reuses the IV created above
	require.NoError(t, f.store.Put("k", []byte("v")))
	iv3, err := f.blobs.GetIV("k")
	require.NoError(t, err)
	assert.Equal(t, iv1, iv3)
}

func TestRetryOnTransientFault(t *testing.T) {
	f := newFixture(t, transientProfile)
	require.NoError(t, f.store.Put("k", []byte("v")))

	f.backend.failLoads(keystore.ErrTransient)
	got, err := f.store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, 1, f.sleeps)

	f.backend.failLoads(keystore.ErrTransient)
	require.NoError(t, f.store.Put("k", []byte("w")))
	assert.Equal(t, 2, f.sleeps)

	f.backend.failLoads(keystore.ErrTransient, keystore.ErrTransient)
	_, err = f.store.Get("k")
	require.ErrorIs(t, err, ErrKeyStoreFault)
	assert.ErrorIs(t, err, keystore.ErrTransient)
	assert.Equal(t, 3, f.sleeps)
}

func TestNoRetryOutsideAffectedPlatform(t *testing.T) {
	f := newFixture(t, modernProfile)
	require.NoError(t, f.store.Put("k", []byte("v")))

	f.backend.failLoads(keystore.ErrTransient)
	_, err := f.store.Get("k")
	require.ErrorIs(t, err, keystore.ErrTransient)
	assert.Zero(t, f.sleeps)
}

func TestFailedFirstPutLeavesNoKey(t *testing.T) {
	f := newFixture(t, modernProfile)

	f.backend.failLoads(errors.New("provider unavailable"))
	err := f.store.Put("k", []byte("v"))
	require.ErrorIs(t, err, ErrKeyStoreFault)

	ok, err := f.store.Has("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailedProvisioningLeavesNoKey(t *testing.T) {
	f := newFixture(t, modernProfile)

	f.backend.storeErr = errors.New("index update failed")
	err := f.store.Put("k", []byte("v"))
	require.ErrorIs(t, err, ErrKeyStoreFault)

	has, err := f.backend.Has(keystore.Alias("k"))
	require.NoError(t, err)
	assert.False(t, has)

	f.backend.storeErr = nil
	ok, err := f.store.Has("k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.store.Put("k", []byte("v")))
	got, err := f.store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestReadsDuringFirstPut(t *testing.T) {
	f := newFixture(t, modernProfile)

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("k%d", i)
		done := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Has panicked for %s: %v", key, r)
				}
			}()
			for {
				select {
				case <-done:
					return
				default:
				}
				got, err := f.store.Get(key)
				if err != nil {
					assert.ErrorIs(t, err, ErrNotFound, key)
				} else {
					assert.Equal(t, []byte("v"), got, key)
				}
				_, err = f.store.Has(key)
				assert.NoError(t, err, key)
			}
		}()

		require.NoError(t, f.store.Put(key, []byte("v")))
		close(done)
		wg.Wait()
	}
}

func TestReadsDuringDelete(t *testing.T) {
	f := newFixture(t, modernProfile)

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, f.store.Put(key, []byte("v")))

		done := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if _, err := f.store.Get(key); err != nil {
					assert.ErrorIs(t, err, ErrNotFound, key)
				}
			}
		}()

		require.NoError(t, f.store.Delete(key))
		close(done)
		wg.Wait()
	}
}

func TestReadsDuringCompact(t *testing.T) {
	f := newFixture(t, modernProfile)
	require.NoError(t, f.store.Put("k", []byte("v")))

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			got, err := f.store.Get("k")
			if assert.NoError(t, err) {
				assert.Equal(t, []byte("v"), got)
			}
		}
	}()

	for i := 0; i < 10; i++ {
		require.NoError(t, f.store.Compact())
	}
	close(done)
	wg.Wait()
}

func TestPutRejectsOversizedPlaintext(t *testing.T) {
	f := newFixture(t, modernProfile)

	err := f.store.Put("k", make([]byte, keystore.MaxPlaintextSize+1))
	require.ErrorIs(t, err, ErrKeyStoreFault)
	assert.ErrorIs(t, err, keystore.ErrPlaintextTooLarge)
	assert.Zero(t, f.backend.storeCount("k"))

	require.NoError(t, f.store.Put("k", make([]byte, keystore.MaxPlaintextSize)))
}

func TestInvalidKeys(t *testing.T) {
	f := newFixture(t, modernProfile)

	for _, key := range []string{"", "*", "aes_iv_k", "two words"} {
		err := f.store.Put(key, []byte("v"))
		assert.ErrorIs(t, err, ErrInvalidKey, "%q", key)
		_, err = f.store.Get(key)
		assert.ErrorIs(t, err, ErrInvalidKey, "%q", key)
	}
}

func TestDeleteAndAudit(t *testing.T) {
	f := newFixture(t, modernProfile)

	require.NoError(t, f.store.Put("k", []byte("v")))
	require.NoError(t, f.store.Delete("k"))
	require.NoError(t, f.store.Delete("never-stored"))

	ok, err := f.store.Has("k")
	require.NoError(t, err)
	assert.False(t, ok)

	snap := f.store.DebugSnapshot()
	assert.Equal(t, []string{
		"2026-01-02T03:04:05.006Z PUT k",
		"2026-01-02T03:04:05.006Z DELETE k",
		"2026-01-02T03:04:05.006Z DELETE never-stored",
	}, snap.AuditTrail)
	assert.Empty(t, snap.Labels)
	assert.Empty(t, snap.KeystoreLabels)
	// The IV outlives the value
	assert.Equal(t, []string{"k"}, snap.IVLabels)
}

func TestSnapshotCapturesKeystoreError(t *testing.T) {
	f := newFixture(t, modernProfile)
	require.NoError(t, f.store.Put("k", []byte("v")))

	f.backend.aliasesErr = errors.New("keyring locked")
	snap := f.store.DebugSnapshot()
	assert.Contains(t, snap.KeystoreError, "keyring locked")
	assert.Nil(t, snap.KeystoreLabels)
	assert.Equal(t, []string{"k"}, snap.Labels)
}

func TestConcurrentFirstPuts(t *testing.T) {
	f := newFixture(t, modernProfile)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, f.store.Put("shared", []byte(fmt.Sprintf("value-%02d", i))))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.backend.storeCount("shared"))
	got, err := f.store.Get("shared")
	require.NoError(t, err)
	assert.Regexp(t, `^value-\d\d$`, string(got))
}

func TestLegacyMode(t *testing.T) {
	f := newFixture(t, legacyProfile)
	assert.Equal(t, keystore.ModeLegacy, f.store.Mode())

	require.NoError(t, f.store.Put("k", []byte("v")))
	snap := f.store.DebugSnapshot()
	assert.Equal(t, "LEGACY", snap.Mode)
	assert.True(t, snap.IsCompatible)
	// The IV is created in both modes even though legacy ignores it
	assert.Equal(t, []string{"k"}, snap.IVLabels)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	wrapped := fmt.Errorf("outer: %w", &Error{Kind: KindNotFound, Key: "k"})
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.ErrorIs(t, wrapped, ErrNotFound)
	assert.NotErrorIs(t, wrapped, ErrKeyStoreCorrupted)
	assert.Nil(t, SnapshotOf(wrapped))
}
