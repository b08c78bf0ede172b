package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCBCRoundTrip(t *testing.T) {
	key, err := GenerateRandom(KeySize)
	require.NoError(t, err)
	iv, err := GenerateRandom(IVSize)
	require.NoError(t, err)

	for _, size := range []int{0, 1, 15, 16, 17, 400, 512} {
		plaintext := bytes.Repeat([]byte{0xa5}, size)

		ciphertext, err := EncryptCBC(key, iv, plaintext)
		require.NoError(t, err)
		assert.Zero(t, len(ciphertext)%IVSize)
		assert.Greater(t, len(ciphertext), size)

		decrypted, err := DecryptCBC(key, iv, ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted, "size %d", size)
	}
}

func TestCBCRejectsBadInput(t *testing.T) {
	key, _ := GenerateRandom(KeySize)
	iv, _ := GenerateRandom(IVSize)

	_, err := EncryptCBC(key, iv[:8], []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidIV)

	_, err = DecryptCBC(key, iv, []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidBlockSize)

	ciphertext, err := EncryptCBC(key, iv, []byte("attempts"))
	require.NoError(t, err)

	otherKey, _ := GenerateRandom(KeySize)
	_, err = DecryptCBC(otherKey, iv, ciphertext)
	// A wrong key decrypts to garbage; the padding check catches it with
	// overwhelming probability but not always.
	if err != nil {
		assert.ErrorIs(t, err, ErrInvalidPadding)
	}
}

func TestUnpad(t *testing.T) {
	_, err := unpad([]byte{1, 2, 3, 0}, 4)
	assert.ErrorIs(t, err, ErrInvalidPadding)

	_, err = unpad([]byte{1, 2, 3, 9}, 4)
	assert.ErrorIs(t, err, ErrInvalidPadding)

	_, err = unpad([]byte{1, 3, 2, 2}, 4)
	assert.NoError(t, err)

	_, err = unpad([]byte{1, 3, 1, 2}, 4)
	assert.ErrorIs(t, err, ErrInvalidPadding)
}

func TestOAEPRoundTrip(t *testing.T) {
	der, err := GenerateRSA(2048)
	require.NoError(t, err)

	plaintext := []byte("server_jwt payload")
	ciphertext, err := EncryptOAEP(der, plaintext)
	require.NoError(t, err)

	decrypted, err := DecryptOAEP(der, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	_, err = EncryptOAEP(der, make([]byte, MaxOAEPPlaintext(2048)))
	assert.NoError(t, err)
	_, err = EncryptOAEP(der, make([]byte, MaxOAEPPlaintext(2048)+1))
	assert.Error(t, err)
}

func TestMaxOAEPPlaintext(t *testing.T) {
	assert.Equal(t, 190, MaxOAEPPlaintext(2048))
	assert.Equal(t, 446, MaxOAEPPlaintext(DefaultRSABits))
}

func TestSealerBindsLabel(t *testing.T) {
	kdf, err := NewKDF()
	require.NoError(t, err)
	kdf.Iterations = 1000

	sealer, err := NewSealer(kdf.DeriveKey([]byte("passphrase")))
	require.NoError(t, err)
	defer sealer.Destroy()

	sealed, err := sealer.Seal("alias-a", []byte("material"))
	require.NoError(t, err)

	opened, err := sealer.Open("alias-a", sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("material"), opened)

	_, err = sealer.Open("alias-b", sealed)
	assert.ErrorIs(t, err, ErrAuthFailed)

	_, err = sealer.Open("alias-a", sealed[:NonceSize])
	assert.ErrorIs(t, err, ErrInvalidSealed)
}

func TestKDFDeterministic(t *testing.T) {
	kdf := &KDF{Salt: bytes.Repeat([]byte{1}, SaltSize), Iterations: 1000}
	a := kdf.DeriveKey([]byte("pw"))
	b := kdf.DeriveKey([]byte("pw"))
	c := kdf.DeriveKey([]byte("other"))

	assert.True(t, ConstantTimeCompare(a, b))
	assert.False(t, ConstantTimeCompare(a, c))
	assert.Len(t, a, KeySize)
}

func TestClearBytes(t *testing.T) {
	b := []byte("secret")
	ClearBytes(b)
	assert.Equal(t, make([]byte, 6), b)
}
