package draft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsales/fieldsync/internal/model"
	"github.com/fieldsales/fieldsync/internal/storage"
)

func leadData(name string) model.DraftData {
	return model.DraftData{
		Entity: model.EntityLead,
		Lead:   &model.LeadDraftData{StoreName: name, Products: []string{"pods"}},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(storage.NewMemoryKV(0), "u1", model.EntityLead, nil)

	require.NoError(t, s.Save(2, leadData("Acme Vape"), nil))

	d, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.Step)
	assert.Equal(t, "Acme Vape", d.Data.Lead.StoreName)
	assert.Equal(t, []string{"pods"}, d.Data.Lead.Products)
	assert.False(t, d.LastSaved.IsZero())
}

func TestSingleSlot(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	s := NewStore(kv, "u1", model.EntityLead, nil)

	require.NoError(t, s.Save(1, leadData("First"), nil))
	require.NoError(t, s.Save(3, leadData("Second"), nil))

	keys, err := kv.List("users/u1/drafts/")
	require.NoError(t, err)
	assert.Len(t, keys, 1, "a second save must overwrite, not append")

	d, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, d.Step)
	assert.Equal(t, "Second", d.Data.Lead.StoreName)
}

func TestStartTimeFirstWriteWins(t *testing.T) {
	s := NewStore(storage.NewMemoryKV(0), "u1", model.EntityLead, nil)

	started := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(1, leadData("Acme"), &started))
	// Subsequent saves without a start time keep the original.
	require.NoError(t, s.Save(2, leadData("Acme"), nil))

	d, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, d.StartTime)
	assert.True(t, d.StartTime.Equal(started))
}

func TestCorruptDraftTreatedAsAbsent(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	require.NoError(t, kv.Put(storage.DraftKey("u1", "lead"), []byte("{not json")))

	s := NewStore(kv, "u1", model.EntityLead, nil)
	d, err := s.Load()
	require.NoError(t, err, "corruption must not surface as an error")
	assert.Nil(t, d)

	// The corrupt entry is cleared, not left behind.
	_, err = kv.Get(storage.DraftKey("u1", "lead"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClearIdempotent(t *testing.T) {
	s := NewStore(storage.NewMemoryKV(0), "u1", model.EntityVisit, nil)
	require.NoError(t, s.Clear())
	require.NoError(t, s.Save(1, model.DraftData{
		Entity: model.EntityVisit,
		Visit:  &model.VisitDraftData{LeadID: "l1"},
	}, nil))
	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())

	d, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestUpdatesNoopWithoutDraft(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	s := NewStore(kv, "u1", model.EntityLead, nil)

	require.NoError(t, s.UpdateStep(4))
	require.NoError(t, s.UpdateData(leadData("Ghost")))

	keys, _ := kv.List("users/u1/")
	assert.Empty(t, keys, "updates before the first save must not create a draft")
}

func TestUpdateStepKeepsData(t *testing.T) {
	s := NewStore(storage.NewMemoryKV(0), "u1", model.EntityLead, nil)
	require.NoError(t, s.Save(1, leadData("Acme"), nil))
	require.NoError(t, s.UpdateStep(2))

	d, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, d.Step)
	assert.Equal(t, "Acme", d.Data.Lead.StoreName)
}

func TestEntityScopeEnforced(t *testing.T) {
	s := NewStore(storage.NewMemoryKV(0), "u1", model.EntityVisit, nil)
	err := s.Save(1, leadData("Acme"), nil)
	assert.ErrorIs(t, err, model.ErrInvalidEntity)
}

func TestQuotaSurfaced(t *testing.T) {
	s := NewStore(storage.NewMemoryKV(8), "u1", model.EntityLead, nil)
	err := s.Save(1, leadData("Acme"), nil)
	assert.ErrorIs(t, err, storage.ErrQuotaExceeded,
		"storage exhaustion must be surfaced, not swallowed")
}
