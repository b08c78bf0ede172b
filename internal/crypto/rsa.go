package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
)

// DefaultRSABits is the legacy key size. OAEP-SHA256 at 4096 bits takes at
// most 446 bytes of plaintext (MaxOAEPPlaintext), so legacy values are
// limited to that rather than to the 512-byte cap of the modern scheme.
const DefaultRSABits = 4096

// GenerateRSA creates an RSA keypair and returns it PKCS#1 DER encoded.
func GenerateRSA(bits int) ([]byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return x509.MarshalPKCS1PrivateKey(key), nil
}

// EncryptOAEP encrypts plaintext to the public half of a PKCS#1 DER keypair.
func EncryptOAEP(der, plaintext []byte) ([]byte, error) {
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA key: %w", err)
	}
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &key.PublicKey, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	return out, nil
}

// DecryptOAEP reverses EncryptOAEP.
func DecryptOAEP(der, ciphertext []byte) ([]byte, error) {
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA key: %w", err)
	}
	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return out, nil
}

// MaxOAEPPlaintext is the largest plaintext a key of the given size accepts.
func MaxOAEPPlaintext(bits int) int {
	return bits/8 - 2*sha256.Size - 2
}
