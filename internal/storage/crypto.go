package storage

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	keySize   = chacha20poly1305.KeySize
	nonceSize = chacha20poly1305.NonceSizeX
)

// EncryptedKV wraps a KV and encrypts values at rest with
// XChaCha20-Poly1305. Lead and visit data is customer PII held on shared
// field devices, so the cache is sealed even though the device is trusted.
// Stored layout: nonce (24 bytes) | ciphertext+tag. The key is bound to the
// storage key as AEAD associated data, so a value copied under a different
// key fails to open.
type EncryptedKV struct {
	inner KV
	key   []byte
}

// NewEncryptedKV wraps inner with a 32-byte master key.
func NewEncryptedKV(inner KV, key []byte) (*EncryptedKV, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", keySize, len(key))
	}
	k := make([]byte, keySize)
	copy(k, key)
	return &EncryptedKV{inner: inner, key: k}, nil
}

func (e *EncryptedKV) Get(key string) ([]byte, error) {
	sealed, err := e.inner.Get(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("kv get %s: sealed value too short", key)
	}
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("kv get %s: decrypt: %w", key, err)
	}
	return plain, nil
}

func (e *EncryptedKV) Put(key string, value []byte) error {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return err
	}
	sealed := aead.Seal(nonce, nonce, value, []byte(key))
	return e.inner.Put(key, sealed)
}

func (e *EncryptedKV) Delete(key string) error { return e.inner.Delete(key) }

func (e *EncryptedKV) List(prefix string) ([]string, error) { return e.inner.List(prefix) }

func (e *EncryptedKV) Close() error { return e.inner.Close() }
