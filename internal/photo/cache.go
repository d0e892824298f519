// Package photo caches captured images locally until their owning record
// syncs. Payloads are zstd-compressed at rest; image bytes dominate local
// storage use, so compression buys real headroom under the quota.
package photo

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/fieldsales/fieldsync/internal/model"
	"github.com/fieldsales/fieldsync/internal/storage"
)

// envelope is the stored form of a photo: metadata plus compressed payload.
type envelope struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	CapturedAt  time.Time `json:"captured_at"`
	Compression string    `json:"compression"`
	Payload     []byte    `json:"payload"`
}

// Cache stores one user's offline photos. Each photo is owned by exactly
// one pending record; the caller is responsible for not double-adding.
type Cache struct {
	kv     storage.KV
	userID string
}

// NewCache returns a photo cache scoped to one user.
func NewCache(kv storage.KV, userID string) *Cache {
	return &Cache{kv: kv, userID: userID}
}

// Put appends a photo to the user's cache.
func (c *Cache) Put(p model.OfflinePhoto) error {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	compressed := enc.EncodeAll(p.Data, nil)
	enc.Close()

	env := envelope{
		ID:          p.ID,
		Filename:    p.Filename,
		CapturedAt:  p.CapturedAt,
		Compression: "zstd",
		Payload:     compressed,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal photo %s: %w", p.ID, err)
	}
	if err := c.kv.Put(storage.PhotoKey(c.userID, p.ID), raw); err != nil {
		return fmt.Errorf("cache photo %s: %w", p.ID, err)
	}
	return nil
}

// Get returns one photo by id, decompressed. Returns storage.ErrNotFound
// if absent (including after an expiry sweep).
func (c *Cache) Get(id string) (*model.OfflinePhoto, error) {
	raw, err := c.kv.Get(storage.PhotoKey(c.userID, id))
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

// List returns all cached photos for the user, decompressed, in key order.
func (c *Cache) List() ([]model.OfflinePhoto, error) {
	keys, err := c.kv.List(storage.PhotoPrefix(c.userID))
	if err != nil {
		return nil, err
	}
	var out []model.OfflinePhoto
	for _, k := range keys {
		raw, err := c.kv.Get(k)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		p, err := decode(raw)
		if err != nil {
			// Corrupt entry: skip, it will be swept later.
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

// CapturedAt returns the capture time of a cached photo without
// decompressing its payload. Used by the expiry sweeper.
func (c *Cache) CapturedAt(id string) (time.Time, error) {
	raw, err := c.kv.Get(storage.PhotoKey(c.userID, id))
	if err != nil {
		return time.Time{}, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return time.Time{}, err
	}
	return env.CapturedAt, nil
}

// IDs returns the ids of all cached photos for the user.
func (c *Cache) IDs() ([]string, error) {
	keys, err := c.kv.List(storage.PhotoPrefix(c.userID))
	if err != nil {
		return nil, err
	}
	prefix := storage.PhotoPrefix(c.userID)
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k[len(prefix):])
	}
	return ids, nil
}

// RemoveByIDs deletes photos after a successful upload or an expiry sweep.
// Missing ids are ignored.
func (c *Cache) RemoveByIDs(ids []string) error {
	for _, id := range ids {
		if err := c.kv.Delete(storage.PhotoKey(c.userID, id)); err != nil {
			return fmt.Errorf("remove photo %s: %w", id, err)
		}
	}
	return nil
}

func decode(raw []byte) (*model.OfflinePhoto, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal photo: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	data, err := dec.DecodeAll(env.Payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress photo %s: %w", env.ID, err)
	}
	return &model.OfflinePhoto{
		ID:         env.ID,
		Data:       data,
		Filename:   env.Filename,
		CapturedAt: env.CapturedAt,
	}, nil
}
