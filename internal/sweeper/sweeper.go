// Package sweeper evicts expired local data so the cache cannot grow
// without bound. Drafts and cached photos older than the retention window
// are removed; pending-sync records are never touched, since they represent
// completed user work.
package sweeper

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/fieldsales/fieldsync/internal/model"
	"github.com/fieldsales/fieldsync/internal/storage"
)

// DefaultRetention is the eviction window for drafts and cached photos.
const DefaultRetention = 24 * time.Hour

// Sweeper removes stale drafts and photos across all users in the store.
type Sweeper struct {
	kv        storage.KV
	retention time.Duration
	log       *slog.Logger
}

// New returns a sweeper over kv. retention <= 0 uses DefaultRetention.
func New(kv storage.KV, retention time.Duration, log *slog.Logger) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{kv: kv, retention: retention, log: log}
}

// Sweep removes drafts whose LastSaved and photos whose CapturedAt are
// older than the retention window as of now. Photos are evicted regardless
// of whether their owning record has synced: long-unsynced media is traded
// for storage headroom, and the record later syncs without them.
// Returns counts of drafts and photos removed.
func (s *Sweeper) Sweep(now time.Time) (drafts, photos int, err error) {
	cutoff := now.Add(-s.retention)

	keys, err := s.kv.List("users/")
	if err != nil {
		return 0, 0, err
	}
	for _, key := range keys {
		switch {
		case strings.Contains(key, "/drafts/"):
			if s.expiredDraft(key, cutoff) {
				if err := s.kv.Delete(key); err == nil {
					drafts++
				}
			}
		case strings.Contains(key, "/photos/"):
			if s.expiredPhoto(key, cutoff) {
				if err := s.kv.Delete(key); err == nil {
					photos++
				}
			}
		}
	}
	if drafts > 0 || photos > 0 {
		s.log.Info("sweep complete", "drafts", drafts, "photos", photos)
	}
	return drafts, photos, nil
}

func (s *Sweeper) expiredDraft(key string, cutoff time.Time) bool {
	raw, err := s.kv.Get(key)
	if err != nil {
		return false
	}
	var d model.Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		// Unparseable drafts are garbage either way.
		return true
	}
	return d.LastSaved.Before(cutoff)
}

func (s *Sweeper) expiredPhoto(key string, cutoff time.Time) bool {
	raw, err := s.kv.Get(key)
	if err != nil {
		return false
	}
	var meta struct {
		CapturedAt time.Time `json:"captured_at"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return true
	}
	return meta.CapturedAt.Before(cutoff)
}
