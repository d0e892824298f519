package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsales/fieldsync/internal/model"
	"github.com/fieldsales/fieldsync/internal/storage"
)

func rec(entity model.EntityType) model.OfflineRecord {
	return model.NewOfflineRecord(entity, map[string]any{"store_name": "Acme"}, nil)
}

func TestEnqueueUpdatesPendingCount(t *testing.T) {
	q := New(storage.NewMemoryKV(0), "u1")

	require.NoError(t, q.Enqueue(rec(model.EntityLead)))
	require.NoError(t, q.Enqueue(rec(model.EntityVisit)))

	n, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	md, err := q.Metadata()
	require.NoError(t, err)
	assert.Equal(t, 2, md.PendingCount)
	assert.Equal(t, model.SyncIdle, md.Status)
}

func TestDurabilityAcrossReload(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	r := rec(model.EntityLead)
	require.NoError(t, New(kv, "u1").Enqueue(r))

	// A fresh Queue over the same storage is the reload: persisted state
	// is the only source of truth.
	reloaded := New(kv, "u1")
	records, err := reloaded.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, r.ID, records[0].ID)
	assert.Equal(t, model.StatusPendingSync, records[0].Status)
}

func TestDequeueAll(t *testing.T) {
	q := New(storage.NewMemoryKV(0), "u1")
	a, b, c := rec(model.EntityLead), rec(model.EntityLead), rec(model.EntityVisit)
	for _, r := range []model.OfflineRecord{a, b, c} {
		require.NoError(t, q.Enqueue(r))
	}

	require.NoError(t, q.DequeueAll([]string{a.ID, c.ID}))

	records, err := q.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, b.ID, records[0].ID)

	md, _ := q.Metadata()
	assert.Equal(t, 1, md.PendingCount)
}

func TestOrderPreserved(t *testing.T) {
	q := New(storage.NewMemoryKV(0), "u1")
	var ids []string
	for i := 0; i < 5; i++ {
		r := rec(model.EntityLead)
		ids = append(ids, r.ID)
		require.NoError(t, q.Enqueue(r))
	}
	records, err := q.List()
	require.NoError(t, err)
	for i, r := range records {
		assert.Equal(t, ids[i], r.ID, "records must drain in enqueue order")
	}
}

func TestUpdateRecord(t *testing.T) {
	q := New(storage.NewMemoryKV(0), "u1")
	r := rec(model.EntityLead)
	require.NoError(t, q.Enqueue(r))

	r.Status = model.StatusNeedsAttention
	require.NoError(t, q.Update(r))

	records, _ := q.List()
	assert.Equal(t, model.StatusNeedsAttention, records[0].Status)

	missing := rec(model.EntityLead)
	assert.Error(t, q.Update(missing))
}

func TestCorruptQueueTreatedAsEmpty(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	require.NoError(t, kv.Put(storage.QueueKey("u1"), []byte("][")))

	q := New(kv, "u1")
	records, err := q.List()
	require.NoError(t, err)
	assert.Empty(t, records)

	// And the queue is usable again afterwards.
	require.NoError(t, q.Enqueue(rec(model.EntityLead)))
	n, _ := q.Count()
	assert.Equal(t, 1, n)
}

func TestUserIsolation(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	require.NoError(t, New(kv, "alice").Enqueue(rec(model.EntityLead)))

	n, err := New(kv, "bob").Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}
