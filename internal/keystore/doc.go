// Package keystore manages per-alias platform keys and the crypto performed
// with them.
//
// A Backend is the platform key store proper: it holds one opaque entry of
// key material per alias. Two backends are provided:
//   - KeyringBackend stores material in the OS keyring
//   - FileBackend stores material in a bbolt file, sealed under a
//     passphrase-derived key, for hosts without a keyring
//
// A Scheme is selected once from the platform profile:
//   - LEGACY: per-alias RSA keypair, OAEP padding, IV ignored
//   - MODERN: per-alias AES-256 key, CBC with PKCS#7 padding and external IV
//
// Key material is created lazily and never regenerated for an alias that
// already has an entry. Every failure leaving the Manager is a *Fault.
package keystore
