// Package storage provides the bbolt-backed blob store for securestore.
//
// Two database files live in the data directory:
//   - secure-storage.db, bucket secure-storage: ciphertext under the logical
//     key, IV under "aes_iv_" + key; bucket config: the mode stamp
//   - audit-trail.db, bucket audit-trail: one entry holding the ordered
//     list of audit lines
//
// Every write is a bbolt Update transaction, which is committed and synced
// to disk before the call returns. No value stored here is readable without
// the matching platform key.
package storage
