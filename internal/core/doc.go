// Package core composes the platform key manager and the blob store into
// one secure store.
//
// Core operations include:
//   - Put: Provision the key on first use, encrypt and persist a value
//   - Get: Check mode and presence in both stores, then decrypt
//   - Has: Report presence, asserting both stores agree
//   - Delete: Remove a key from both stores
//   - Wipe: Clear both stores and the audit trail
//   - DebugSnapshot: Describe both stores by label, never by value
//
// A key is either absent from both stores or present in both. Seeing it in
// only one is corruption, which Get reports as a typed error and Has treats
// as a broken invariant. Nothing in this package repairs it.
package core
