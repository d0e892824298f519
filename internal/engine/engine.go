// Package engine drains the pending-sync queue to the hosted backend:
// upload each record's photos, insert the row, remove the record. Bounded
// retry with a fixed delay on transient failures; permanent backend
// rejections quarantine the record instead of burning retries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldsales/fieldsync/internal/backend"
	"github.com/fieldsales/fieldsync/internal/model"
	"github.com/fieldsales/fieldsync/internal/photo"
	"github.com/fieldsales/fieldsync/internal/queue"
	"github.com/fieldsales/fieldsync/internal/storage"
)

// ErrAlreadySyncing is returned when a drain is requested while one is in
// flight. The caller treats it as a no-op; single-flight is an invariant.
var ErrAlreadySyncing = errors.New("sync already in progress")

// Notifier receives user-visible sync outcomes. The engine never touches
// presentation directly.
type Notifier interface {
	SyncSucceeded(count int)
	// ManualRetryRequired fires once automatic retries are exhausted, so
	// the user knows the system will not silently keep trying.
	ManualRetryRequired(lastError string)
	// RecordRejected fires when the backend permanently rejects a record.
	RecordRejected(recordID, reason string)
	StorageFull()
}

// Config bounds the engine's retry and timeout behavior.
type Config struct {
	MaxRetries    int           // consecutive failed drains before manual retry is required
	RetryDelay    time.Duration // delay before an automatic re-drain
	UploadTimeout time.Duration // per photo upload
	InsertTimeout time.Duration // per record insert
	PhotoBucket   string
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		RetryDelay:    5 * time.Second,
		UploadTimeout: 30 * time.Second,
		InsertTimeout: 15 * time.Second,
		PhotoBucket:   "visit-photos",
	}
}

// Engine is the sole mutator of record status and sync metadata.
// Construct one per user session; all collaborators are injected.
type Engine struct {
	queue    *queue.Queue
	photos   *photo.Cache
	inserter backend.Inserter
	blobs    backend.BlobStore
	online   func() bool
	notify   Notifier
	cfg      Config
	log      *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	draining   bool
	retryTimer *time.Timer
}

// New wires an engine from its collaborators.
func New(q *queue.Queue, photos *photo.Cache, ins backend.Inserter, blobs backend.BlobStore,
	online func() bool, notify Notifier, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		queue:    q,
		photos:   photos,
		inserter: ins,
		blobs:    blobs,
		online:   online,
		notify:   notify,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// TriggerOnline is called by the network monitor on an offline-to-online
// transition. Drains in the background if anything is queued.
func (e *Engine) TriggerOnline() {
	n, err := e.queue.Count()
	if err != nil || n == 0 {
		return
	}
	go func() {
		if err := e.Drain(context.Background()); err != nil && !errors.Is(err, ErrAlreadySyncing) {
			e.log.Warn("drain after reconnect failed", "err", err)
		}
	}()
}

// Drain runs one automatic sync pass. Quarantined records are skipped.
func (e *Engine) Drain(ctx context.Context) error {
	return e.drain(ctx, false)
}

// ManualRetry is the explicit user trigger: it resets the retry budget and
// re-attempts quarantined records as well.
func (e *Engine) ManualRetry(ctx context.Context) error {
	md, err := e.queue.Metadata()
	if err == nil && md.RetryCount != 0 {
		md.RetryCount = 0
		md.Status = model.SyncIdle
		_ = e.queue.SetMetadata(md)
	}
	return e.drain(ctx, true)
}

// Stop cancels any scheduled automatic retry.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}

func (e *Engine) drain(ctx context.Context, includeQuarantined bool) error {
	// Single-flight: check-and-set under the lock, never across a
	// blocking call. A second trigger while draining is a no-op.
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return ErrAlreadySyncing
	}
	e.draining = true
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
	}()

	if !e.online() {
		return nil
	}

	records, err := e.queue.List()
	if err != nil {
		return err
	}
	var work []model.OfflineRecord
	for _, r := range records {
		if r.Status == model.StatusNeedsAttention && !includeQuarantined {
			continue
		}
		work = append(work, r)
	}
	if len(work) == 0 {
		return nil
	}

	md, err := e.queue.Metadata()
	if err != nil {
		return err
	}
	md.Status = model.SyncSyncing
	if err := e.queue.SetMetadata(md); err != nil {
		return err
	}

	synced := 0
	var failure error
	// Sequential on purpose: bounds backend load and keeps failure
	// attribution per-record unambiguous.
	for _, rec := range work {
		err := e.syncRecord(ctx, rec)
		if err == nil {
			synced++
			continue
		}
		if backend.IsPermanent(err) {
			rec.Status = model.StatusNeedsAttention
			if uerr := e.queue.Update(rec); uerr != nil {
				e.log.Warn("quarantine update failed", "record", rec.ID, "err", uerr)
			}
			e.log.Warn("record rejected by backend", "record", rec.ID, "err", err)
			e.notify.RecordRejected(rec.ID, err.Error())
			continue
		}
		// Transient: abort the pass. Already-synced records stay
		// removed; there is no rollback.
		failure = err
		break
	}

	md, _ = e.queue.Metadata()
	if failure == nil {
		now := e.now().UTC()
		md.Status = model.SyncIdle
		md.RetryCount = 0
		md.LastError = ""
		md.LastSync = &now
		if err := e.queue.SetMetadata(md); err != nil {
			return err
		}
		if synced > 0 {
			e.notify.SyncSucceeded(synced)
		}
		return nil
	}

	md.Status = model.SyncError
	md.RetryCount++
	md.LastError = failure.Error()
	if err := e.queue.SetMetadata(md); err != nil {
		e.log.Warn("persist sync error state failed", "err", err)
		if errors.Is(err, storage.ErrQuotaExceeded) {
			e.notify.StorageFull()
		}
	}
	if md.RetryCount < e.cfg.MaxRetries {
		e.scheduleRetry()
	} else {
		e.notify.ManualRetryRequired(md.LastError)
	}
	return failure
}

// syncRecord uploads one record's photos then inserts its row. Any photo
// upload failure aborts the attempt; the record is never partially synced.
func (e *Engine) syncRecord(ctx context.Context, rec model.OfflineRecord) error {
	var urls []string
	for _, id := range rec.PhotoIDs {
		p, err := e.photos.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			// Evicted by the expiry sweeper. The record still syncs
			// with whatever photos remain.
			e.log.Warn("photo missing, syncing without it", "record", rec.ID, "photo", id)
			continue
		}
		if err != nil {
			return fmt.Errorf("load photo %s: %w", id, err)
		}
		uctx, cancel := context.WithTimeout(ctx, e.cfg.UploadTimeout)
		url, err := e.blobs.UploadBlob(uctx, e.cfg.PhotoBucket, blobPath(rec, p), p.Data)
		cancel()
		if err != nil {
			return fmt.Errorf("upload photo %s: %w", id, err)
		}
		urls = append(urls, url)
	}

	row := make(map[string]any, len(rec.Data)+4)
	for k, v := range rec.Data {
		row[k] = v
	}
	if len(urls) > 0 {
		row["photo_urls"] = urls
	}
	row["created_at"] = rec.CreatedAt.Format(time.RFC3339)
	if rec.SubmittedAt != nil {
		row["submitted_at"] = rec.SubmittedAt.Format(time.RFC3339)
	}
	if rec.DurationMs != nil {
		row["duration_ms"] = *rec.DurationMs
	}

	ictx, cancel := context.WithTimeout(ctx, e.cfg.InsertTimeout)
	defer cancel()
	if _, err := e.inserter.InsertRecord(ictx, rec.Entity.Table(), row); err != nil {
		return err
	}

	if err := e.photos.RemoveByIDs(rec.PhotoIDs); err != nil {
		e.log.Warn("photo cleanup after sync failed", "record", rec.ID, "err", err)
	}
	return e.queue.DequeueAll([]string{rec.ID})
}

// scheduleRetry arms a single cancellable timer for the next automatic
// drain. Skipped if connectivity has dropped again by the time it fires.
func (e *Engine) scheduleRetry() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	e.retryTimer = time.AfterFunc(e.cfg.RetryDelay, func() {
		if !e.online() {
			return
		}
		if err := e.Drain(context.Background()); err != nil && !errors.Is(err, ErrAlreadySyncing) {
			e.log.Warn("scheduled retry failed", "err", err)
		}
	})
}

func blobPath(rec model.OfflineRecord, p *model.OfflinePhoto) string {
	return fmt.Sprintf("%s/%s/%s_%s", rec.Entity, rec.ID, p.ID, p.Filename)
}
