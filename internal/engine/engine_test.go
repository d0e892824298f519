package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsales/fieldsync/internal/backend"
	"github.com/fieldsales/fieldsync/internal/model"
	"github.com/fieldsales/fieldsync/internal/photo"
	"github.com/fieldsales/fieldsync/internal/queue"
	"github.com/fieldsales/fieldsync/internal/storage"
)

type fakeBlobs struct {
	mu      sync.Mutex
	paths   []string
	errs    []error // per-call script; nil past the end
	calls   int
	started chan struct{} // closed on first call when non-nil
	release chan struct{} // blocks uploads until closed when non-nil
}

func (f *fakeBlobs) UploadBlob(ctx context.Context, bucket, path string, data []byte) (string, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	var err error
	if call < len(f.errs) {
		err = f.errs[call]
	}
	started := f.started
	release := f.release
	f.mu.Unlock()

	if started != nil && call == 0 {
		close(started)
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	return "https://media.test/" + bucket + "/" + path, nil
}

func (f *fakeBlobs) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeInserter struct {
	mu     sync.Mutex
	tables []string
	rows   []map[string]any
	errs   []error
	calls  int
}

func (f *fakeInserter) InsertRecord(ctx context.Context, table string, row map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	if call < len(f.errs) && f.errs[call] != nil {
		return nil, f.errs[call]
	}
	f.tables = append(f.tables, table)
	f.rows = append(f.rows, row)
	return map[string]any{"id": fmt.Sprintf("row-%d", call)}, nil
}

func (f *fakeInserter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu        sync.Mutex
	succeeded []int
	manual    []string
	rejected  []string
}

func (n *recordingNotifier) SyncSucceeded(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.succeeded = append(n.succeeded, count)
}

func (n *recordingNotifier) ManualRetryRequired(lastError string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.manual = append(n.manual, lastError)
}

func (n *recordingNotifier) RecordRejected(recordID, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected = append(n.rejected, recordID)
}

func (n *recordingNotifier) StorageFull() {}

func (n *recordingNotifier) manualCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.manual)
}

type fixture struct {
	kv       *storage.MemoryKV
	queue    *queue.Queue
	photos   *photo.Cache
	blobs    *fakeBlobs
	inserter *fakeInserter
	notify   *recordingNotifier
	online   atomic.Bool
	engine   *Engine
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		kv:       storage.NewMemoryKV(0),
		blobs:    &fakeBlobs{},
		inserter: &fakeInserter{},
		notify:   &recordingNotifier{},
	}
	f.online.Store(true)
	f.queue = queue.New(f.kv, "u1")
	f.photos = photo.NewCache(f.kv, "u1")
	f.engine = New(f.queue, f.photos, f.inserter, f.blobs,
		f.online.Load, f.notify, cfg, nil)
	t.Cleanup(f.engine.Stop)
	return f
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Hour // tests trigger drains explicitly
	return cfg
}

func (f *fixture) enqueueWithPhotos(t *testing.T, photoIDs ...string) model.OfflineRecord {
	t.Helper()
	for _, id := range photoIDs {
		require.NoError(t, f.photos.Put(model.OfflinePhoto{
			ID: id, Data: []byte("img-" + id), Filename: id + ".jpg",
			CapturedAt: time.Now().UTC(),
		}))
	}
	rec := model.NewOfflineRecord(model.EntityLead,
		map[string]any{"store_name": "Acme Vape"}, photoIDs)
	require.NoError(t, f.queue.Enqueue(rec))
	return rec
}

func TestDrainSuccess(t *testing.T) {
	f := newFixture(t, testConfig())
	f.enqueueWithPhotos(t, "p1", "p2")

	require.NoError(t, f.engine.Drain(context.Background()))

	// Photos uploaded in insertion order, then the row inserted.
	require.Len(t, f.blobs.paths, 2)
	assert.Contains(t, f.blobs.paths[0], "p1")
	assert.Contains(t, f.blobs.paths[1], "p2")
	require.Equal(t, 1, f.inserter.callCount())
	assert.Equal(t, []string{"leads"}, f.inserter.tables)

	row := f.inserter.rows[0]
	assert.Equal(t, "Acme Vape", row["store_name"])
	urls, ok := row["photo_urls"].([]string)
	require.True(t, ok)
	assert.Len(t, urls, 2)

	// Queue and cache drained, metadata settled.
	n, _ := f.queue.Count()
	assert.Zero(t, n)
	ids, _ := f.photos.IDs()
	assert.Empty(t, ids)
	md, _ := f.queue.Metadata()
	assert.Equal(t, model.SyncIdle, md.Status)
	assert.Zero(t, md.PendingCount)
	assert.Zero(t, md.RetryCount)
	require.NotNil(t, md.LastSync)
	assert.Equal(t, []int{1}, f.notify.succeeded)
}

func TestSingleFlight(t *testing.T) {
	f := newFixture(t, testConfig())
	f.blobs.started = make(chan struct{})
	f.blobs.release = make(chan struct{})
	f.enqueueWithPhotos(t, "p1")

	done := make(chan error, 1)
	go func() { done <- f.engine.Drain(context.Background()) }()
	<-f.blobs.started

	// Second trigger while the first drain is mid-upload is a no-op.
	err := f.engine.Drain(context.Background())
	assert.ErrorIs(t, err, ErrAlreadySyncing)

	close(f.blobs.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.inserter.callCount())
}

func TestOfflineAcceptance(t *testing.T) {
	f := newFixture(t, testConfig())
	f.online.Store(false)

	// Enqueue succeeds with no connectivity; nothing touches the network.
	f.enqueueWithPhotos(t, "p1")
	require.NoError(t, f.engine.Drain(context.Background()))
	assert.Zero(t, f.blobs.callCount())
	assert.Zero(t, f.inserter.callCount())
	n, _ := f.queue.Count()
	assert.Equal(t, 1, n)

	// Connectivity returns: the same queue drains.
	f.online.Store(true)
	require.NoError(t, f.engine.Drain(context.Background()))
	n, _ = f.queue.Count()
	assert.Zero(t, n)
}

func TestPartialSuccessRetained(t *testing.T) {
	f := newFixture(t, testConfig())
	first := f.enqueueWithPhotos(t, "a1")
	second := f.enqueueWithPhotos(t, "b1")
	f.inserter.errs = []error{nil, errors.New("connection reset")}

	err := f.engine.Drain(context.Background())
	require.Error(t, err)

	// The first record stays removed; only the failed one remains,
	// along with only its photos.
	records, _ := f.queue.List()
	require.Len(t, records, 1)
	assert.Equal(t, second.ID, records[0].ID)
	assert.NotEqual(t, first.ID, records[0].ID)
	ids, _ := f.photos.IDs()
	assert.Equal(t, []string{"b1"}, ids)

	md, _ := f.queue.Metadata()
	assert.Equal(t, model.SyncError, md.Status)
	assert.Equal(t, 1, md.RetryCount)
	assert.Equal(t, 1, md.PendingCount)
	assert.NotEmpty(t, md.LastError)
}

func TestBoundedRetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryDelay = 10 * time.Millisecond
	f := newFixture(t, cfg)
	f.enqueueWithPhotos(t, "p1")
	f.blobs.errs = []error{
		errors.New("timeout"), errors.New("timeout"), errors.New("timeout"),
		errors.New("timeout"), errors.New("timeout"),
	}

	require.Error(t, f.engine.Drain(context.Background()))

	// Two automatic retries follow, then the engine stops and asks for a
	// manual retry.
	require.Eventually(t, func() bool { return f.notify.manualCount() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, f.blobs.callCount())

	// No further attempts are scheduled.
	time.Sleep(5 * cfg.RetryDelay)
	assert.Equal(t, 3, f.blobs.callCount())

	md, _ := f.queue.Metadata()
	assert.Equal(t, model.SyncError, md.Status)
	assert.Equal(t, 3, md.RetryCount)
	assert.Equal(t, 1, md.PendingCount, "queue must be preserved on failure")
}

func TestPermanentFailureQuarantines(t *testing.T) {
	f := newFixture(t, testConfig())
	bad := f.enqueueWithPhotos(t)
	f.enqueueWithPhotos(t)
	f.inserter.errs = []error{backend.Permanent(errors.New("missing required field"))}

	// A rejection does not abort the pass: the next record still syncs.
	require.NoError(t, f.engine.Drain(context.Background()))
	assert.Equal(t, []string{bad.ID}, f.notify.rejected)

	records, _ := f.queue.List()
	require.Len(t, records, 1)
	assert.Equal(t, bad.ID, records[0].ID)
	assert.Equal(t, model.StatusNeedsAttention, records[0].Status)

	md, _ := f.queue.Metadata()
	assert.Equal(t, model.SyncIdle, md.Status)
	assert.Zero(t, md.RetryCount, "rejections must not burn the retry budget")

	// Automatic drains skip the quarantined record.
	calls := f.inserter.callCount()
	require.NoError(t, f.engine.Drain(context.Background()))
	assert.Equal(t, calls, f.inserter.callCount())

	// A manual retry re-attempts it.
	require.NoError(t, f.engine.ManualRetry(context.Background()))
	n, _ := f.queue.Count()
	assert.Zero(t, n)
}

func TestEvictedPhotoSkipped(t *testing.T) {
	f := newFixture(t, testConfig())
	rec := model.NewOfflineRecord(model.EntityVisit,
		map[string]any{"lead_id": "l1"}, []string{"gone"})
	require.NoError(t, f.queue.Enqueue(rec))

	// The photo was swept; the record still syncs without it.
	require.NoError(t, f.engine.Drain(context.Background()))
	require.Equal(t, 1, f.inserter.callCount())
	assert.Equal(t, []string{"visits"}, f.inserter.tables)
	_, hasURLs := f.inserter.rows[0]["photo_urls"]
	assert.False(t, hasURLs)
	n, _ := f.queue.Count()
	assert.Zero(t, n)
}

func TestPhotoFailureAbortsRecord(t *testing.T) {
	f := newFixture(t, testConfig())
	f.enqueueWithPhotos(t, "p1", "p2")
	f.blobs.errs = []error{nil, errors.New("connection refused")}

	require.Error(t, f.engine.Drain(context.Background()))

	// No partial sync: the insert never happened and nothing was removed.
	assert.Zero(t, f.inserter.callCount())
	n, _ := f.queue.Count()
	assert.Equal(t, 1, n)
	ids, _ := f.photos.IDs()
	assert.Len(t, ids, 2)
}

func TestManualRetryResetsBudget(t *testing.T) {
	f := newFixture(t, testConfig())
	f.enqueueWithPhotos(t)
	md, _ := f.queue.Metadata()
	md.RetryCount = 3
	md.Status = model.SyncError
	require.NoError(t, f.queue.SetMetadata(md))

	require.NoError(t, f.engine.ManualRetry(context.Background()))

	md, _ = f.queue.Metadata()
	assert.Equal(t, model.SyncIdle, md.Status)
	assert.Zero(t, md.RetryCount)
	n, _ := f.queue.Count()
	assert.Zero(t, n)
}

func TestTriggerOnlineDrains(t *testing.T) {
	f := newFixture(t, testConfig())
	f.enqueueWithPhotos(t, "p1")

	f.engine.TriggerOnline()

	require.Eventually(t, func() bool {
		n, _ := f.queue.Count()
		return n == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTriggerOnlineEmptyQueueNoop(t *testing.T) {
	f := newFixture(t, testConfig())
	f.engine.TriggerOnline()
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.inserter.callCount())
}
