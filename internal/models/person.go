package models

import (
	"time"

	"github.com/google/uuid"
)

type PhotoStatus string

const (
	PhotoStatusUploaded  PhotoStatus = "uploaded"
	PhotoStatusProcessed PhotoStatus = "processed"
	PhotoStatusDuplicate PhotoStatus = "duplicate"
	PhotoStatusRejected  PhotoStatus = "rejected"
)

// PersonProfile is a registered person with explicit consent flags.
// Profiles are soft-deleted; rows stay while photos, runs and models
// still reference them.
type PersonProfile struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	Name             string     `json:"name" db:"name"`
	ConsentConfirmed bool       `json:"consent_confirmed" db:"consent_confirmed"`
	SubjectIsAdult   bool       `json:"subject_is_adult" db:"subject_is_adult"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// PhotoAsset is one uploaded photo. It is created on upload completion
// and mutated only by a preprocessing run.
type PhotoAsset struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	PersonID    uuid.UUID   `json:"person_id" db:"person_id"`
	StorageKey  string      `json:"storage_key" db:"storage_key"`
	ContentType string      `json:"content_type" db:"content_type"`
	SizeBytes   int64       `json:"size_bytes" db:"size_bytes"`
	Status      PhotoStatus `json:"status" db:"status"`
	PHash       string      `json:"phash,omitempty" db:"phash"`
	IsDuplicate bool        `json:"is_duplicate" db:"is_duplicate"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}
