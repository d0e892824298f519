// Package storage provides the local persistent key-value layer backing
// drafts, the pending-sync queue, the photo cache, and sync metadata.
// All keys are namespaced per user so switching accounts never mixes queues.
package storage

import "errors"

var (
	ErrNotFound = errors.New("key not found")
	// ErrQuotaExceeded signals local storage exhaustion. Callers must
	// surface it to the user rather than swallow it (invisible data loss).
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// KV is the storage contract. Implementations: SQLiteKV (file-backed),
// MemoryKV (tests), EncryptedKV (wrapper).
type KV interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	List(prefix string) ([]string, error)
	Close() error
}
