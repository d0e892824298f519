// Package draft persists in-progress multi-step form state. Drafts are a
// convenience, not a guarantee: failures are logged and swallowed, and a
// corrupt draft is treated as absent rather than surfaced to the user.
package draft

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldsales/fieldsync/internal/model"
	"github.com/fieldsales/fieldsync/internal/storage"
)

// Store holds at most one draft per (user, entity type). Save replaces
// wholesale; there is no versioning.
type Store struct {
	kv     storage.KV
	userID string
	entity model.EntityType
	log    *slog.Logger
	now    func() time.Time
}

// NewStore returns a draft store scoped to one user and entity type.
func NewStore(kv storage.KV, userID string, entity model.EntityType, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{kv: kv, userID: userID, entity: entity, log: log, now: time.Now}
}

func (s *Store) key() string {
	return storage.DraftKey(s.userID, string(s.entity))
}

// Load returns the current draft, or nil if absent. An unparseable draft is
// cleared and reported as absent.
func (s *Store) Load() (*model.Draft, error) {
	raw, err := s.kv.Get(s.key())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	var d model.Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		s.log.Warn("clearing corrupt draft", "user", s.userID, "entity", s.entity, "err", err)
		_ = s.kv.Delete(s.key())
		return nil, nil
	}
	if err := d.Data.Validate(); err != nil {
		s.log.Warn("clearing invalid draft", "user", s.userID, "entity", s.entity, "err", err)
		_ = s.kv.Delete(s.key())
		return nil, nil
	}
	return &d, nil
}

// Save replaces the stored draft wholesale and stamps LastSaved. The
// previously recorded StartTime wins when startTime is nil, keeping fill
// duration telemetry anchored to the user's first meaningful input.
func (s *Store) Save(step int, data model.DraftData, startTime *time.Time) error {
	if err := data.Validate(); err != nil {
		return err
	}
	if data.Entity != s.entity {
		return fmt.Errorf("%w: store is scoped to %s", model.ErrInvalidEntity, s.entity)
	}
	if startTime == nil {
		if prev, err := s.Load(); err == nil && prev != nil {
			startTime = prev.StartTime
		}
	}
	d := model.Draft{
		Step:      step,
		Data:      data,
		LastSaved: s.now().UTC(),
		StartTime: startTime,
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := s.kv.Put(s.key(), raw); err != nil {
		if errors.Is(err, storage.ErrQuotaExceeded) {
			return err
		}
		s.log.Warn("draft save failed", "user", s.userID, "entity", s.entity, "err", err)
		return nil
	}
	return nil
}

// Clear removes the draft. Idempotent.
func (s *Store) Clear() error {
	return s.kv.Delete(s.key())
}

// UpdateStep re-saves with only the step changed. No-op without a draft.
func (s *Store) UpdateStep(step int) error {
	d, err := s.Load()
	if err != nil || d == nil {
		return err
	}
	return s.Save(step, d.Data, d.StartTime)
}

// UpdateData re-saves with only the form data changed. No-op without a draft.
func (s *Store) UpdateData(data model.DraftData) error {
	d, err := s.Load()
	if err != nil || d == nil {
		return err
	}
	return s.Save(d.Step, data, d.StartTime)
}
