// Package crypto provides the cryptographic primitives used by securestore.
//
// Platform key schemes:
//   - AES-256-CBC with PKCS#7 padding and a caller-supplied 16-byte IV
//   - RSA with OAEP-SHA256 padding for platforms without symmetric keys
//
// Key material at rest (file key backend) is sealed with AES-256-GCM:
//   - 32-byte key derived from a passphrase via PBKDF2-HMAC-SHA256
//   - 12-byte random nonce per seal, alias bound as additional data
//
// Memory safety:
//   - Use ClearBytes() to wipe key material after use
//   - Call Sealer.Destroy() when done sealing
package crypto
