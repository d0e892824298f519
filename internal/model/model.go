// Package model defines the entities persisted by the offline layer:
// drafts, queued records, cached photos, and per-user sync metadata.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityType discriminates lead and visit payloads.
type EntityType string

const (
	EntityLead  EntityType = "lead"
	EntityVisit EntityType = "visit"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	return t == EntityLead || t == EntityVisit
}

// RecordStatus is the lifecycle state of an offline record.
type RecordStatus string

const (
	StatusDraft       RecordStatus = "draft"
	StatusPendingSync RecordStatus = "pending_sync"
	// StatusNeedsAttention marks a record rejected by the backend
	// (validation failure). It is skipped by automatic drains and only
	// re-attempted on an explicit manual retry.
	StatusNeedsAttention RecordStatus = "needs_attention"
)

// SyncState is the engine's process-wide state.
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
	SyncError   SyncState = "error"
)

var (
	ErrInvalidEntity = errors.New("invalid entity type")
	ErrInvalidDraft  = errors.New("invalid draft payload")
)

// LeadDraftData is the field set of an in-progress lead form.
type LeadDraftData struct {
	StoreName    string   `json:"store_name"`
	OwnerName    string   `json:"owner_name,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	Address      string   `json:"address,omitempty"`
	TerritoryID  string   `json:"territory_id,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	StoreType    string   `json:"store_type,omitempty"`
	PipelineStep string   `json:"pipeline_step,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	Products     []string `json:"products,omitempty"`
}

// VisitDraftData is the field set of an in-progress visit form.
type VisitDraftData struct {
	LeadID      string   `json:"lead_id"`
	Purpose     string   `json:"purpose,omitempty"`
	Outcome     string   `json:"outcome,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	GPSAccuracy *float64 `json:"gps_accuracy,omitempty"`
}

// DraftData is the tagged union over lead and visit form payloads.
// Exactly one of Lead or Visit is set, matching Entity.
type DraftData struct {
	Entity EntityType      `json:"entity"`
	Lead   *LeadDraftData  `json:"lead,omitempty"`
	Visit  *VisitDraftData `json:"visit,omitempty"`
}

// Validate checks the tag matches the populated arm.
func (d DraftData) Validate() error {
	switch d.Entity {
	case EntityLead:
		if d.Lead == nil || d.Visit != nil {
			return fmt.Errorf("%w: lead payload missing or mismatched", ErrInvalidDraft)
		}
	case EntityVisit:
		if d.Visit == nil || d.Lead != nil {
			return fmt.Errorf("%w: visit payload missing or mismatched", ErrInvalidDraft)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEntity, d.Entity)
	}
	return nil
}

// Draft is in-progress multi-step form state. One per (user, entity type);
// saving replaces wholesale, last-write-wins.
type Draft struct {
	Step      int        `json:"step"`
	Data      DraftData  `json:"data"`
	LastSaved time.Time  `json:"last_saved"`
	EntityID  *string    `json:"entity_id,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
}

// OfflinePhoto is a captured image held locally until its record syncs.
// Data is the raw image payload; the cache compresses it at rest.
type OfflinePhoto struct {
	ID         string    `json:"id"`
	Data       []byte    `json:"data"`
	Filename   string    `json:"filename"`
	CapturedAt time.Time `json:"captured_at"`
}

// OfflineRecord is a completed-but-unsynced lead or visit, the unit of the
// pending-sync queue. Photos are held in the photo cache and referenced by id.
type OfflineRecord struct {
	ID          string         `json:"id"`
	Entity      EntityType     `json:"entity"`
	Data        map[string]any `json:"data"`
	PhotoIDs    []string       `json:"photo_ids,omitempty"`
	Status      RecordStatus   `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	SubmittedAt *time.Time     `json:"submitted_at,omitempty"`
	DurationMs  *int64         `json:"duration_ms,omitempty"`
}

// NewOfflineRecord builds a pending_sync record with a fresh local id.
func NewOfflineRecord(entity EntityType, data map[string]any, photoIDs []string) OfflineRecord {
	return OfflineRecord{
		ID:        uuid.NewString(),
		Entity:    entity,
		Data:      data,
		PhotoIDs:  photoIDs,
		Status:    StatusPendingSync,
		CreatedAt: time.Now().UTC(),
	}
}

// SyncMetadata is per-user engine state. The sync engine is its sole mutator.
type SyncMetadata struct {
	LastSync     *time.Time `json:"last_sync,omitempty"`
	PendingCount int        `json:"pending_count"`
	Status       SyncState  `json:"status"`
	RetryCount   int        `json:"retry_count"`
	LastError    string     `json:"last_error,omitempty"`
}

// Table returns the backend table for an entity type.
func (t EntityType) Table() string {
	switch t {
	case EntityLead:
		return "leads"
	case EntityVisit:
		return "visits"
	}
	return ""
}
