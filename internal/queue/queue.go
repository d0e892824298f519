// Package queue is the durable list of completed-but-unsynced records.
// Records persist across restarts until the sync engine confirms backend
// insertion or the user clears them explicitly; the expiry sweeper never
// touches them, since they represent completed user work.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fieldsales/fieldsync/internal/model"
	"github.com/fieldsales/fieldsync/internal/storage"
)

// Queue stores one user's pending-sync records plus the sync metadata the
// engine maintains alongside them. The whole queue is one logical KV record;
// removal across storage writes is best-effort, not transactional.
type Queue struct {
	kv     storage.KV
	userID string
}

// New returns a queue scoped to one user.
func New(kv storage.KV, userID string) *Queue {
	return &Queue{kv: kv, userID: userID}
}

// Enqueue appends a record and bumps SyncMetadata.PendingCount. Works
// offline: no network is involved.
func (q *Queue) Enqueue(rec model.OfflineRecord) error {
	records, err := q.List()
	if err != nil {
		return err
	}
	records = append(records, rec)
	if err := q.write(records); err != nil {
		return err
	}
	md, err := q.Metadata()
	if err != nil {
		return err
	}
	md.PendingCount = len(records)
	return q.SetMetadata(md)
}

// List returns all queued records in enqueue order. A corrupt queue record
// is treated as empty; the completed work it held is gone either way, and
// failing every future enqueue over it would compound the loss.
func (q *Queue) List() ([]model.OfflineRecord, error) {
	raw, err := q.kv.Get(storage.QueueKey(q.userID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	var records []model.OfflineRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		_ = q.kv.Delete(storage.QueueKey(q.userID))
		return nil, nil
	}
	return records, nil
}

// Count returns the queue length.
func (q *Queue) Count() (int, error) {
	records, err := q.List()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// DequeueAll removes the records with the given ids after confirmed sync
// and refreshes PendingCount. Unknown ids are ignored.
func (q *Queue) DequeueAll(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	records, err := q.List()
	if err != nil {
		return err
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := records[:0]
	for _, r := range records {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	if err := q.write(kept); err != nil {
		return err
	}
	md, err := q.Metadata()
	if err != nil {
		return err
	}
	md.PendingCount = len(kept)
	return q.SetMetadata(md)
}

// Update replaces the stored copy of a record in place (status changes).
func (q *Queue) Update(rec model.OfflineRecord) error {
	records, err := q.List()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID == rec.ID {
			records[i] = rec
			return q.write(records)
		}
	}
	return fmt.Errorf("update record %s: not in queue", rec.ID)
}

// Metadata returns the user's sync metadata, zero-valued if absent.
func (q *Queue) Metadata() (model.SyncMetadata, error) {
	md := model.SyncMetadata{Status: model.SyncIdle}
	raw, err := q.kv.Get(storage.MetadataKey(q.userID))
	if errors.Is(err, storage.ErrNotFound) {
		return md, nil
	}
	if err != nil {
		return md, fmt.Errorf("load sync metadata: %w", err)
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		_ = q.kv.Delete(storage.MetadataKey(q.userID))
		return model.SyncMetadata{Status: model.SyncIdle}, nil
	}
	return md, nil
}

// SetMetadata persists the sync metadata. The sync engine is the sole
// mutator of everything except PendingCount.
func (q *Queue) SetMetadata(md model.SyncMetadata) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return err
	}
	if err := q.kv.Put(storage.MetadataKey(q.userID), raw); err != nil {
		return fmt.Errorf("save sync metadata: %w", err)
	}
	return nil
}

func (q *Queue) write(records []model.OfflineRecord) error {
	if len(records) == 0 {
		return q.kv.Delete(storage.QueueKey(q.userID))
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return err
	}
	if err := q.kv.Put(storage.QueueKey(q.userID), raw); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}
