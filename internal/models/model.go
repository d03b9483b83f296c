package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type VersionStatus string

const (
	VersionStatusPending   VersionStatus = "pending"
	VersionStatusTraining  VersionStatus = "training"
	VersionStatusCompleted VersionStatus = "completed"
	VersionStatusFailed    VersionStatus = "failed"
)

func (s VersionStatus) Terminal() bool {
	return s == VersionStatusCompleted || s == VersionStatusFailed
}

// Model is a named container for trained adapter versions of one person.
type Model struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	PersonID  uuid.UUID  `json:"person_id" db:"person_id"`
	Name      string     `json:"name" db:"name"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// ModelVersion is one trainable attempt. Training parameters are fixed
// at creation; only status, artifact prefix and error text change.
type ModelVersion struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	ModelID        uuid.UUID       `json:"model_id" db:"model_id"`
	VersionNumber  int             `json:"version_number" db:"version_number"`
	BaseModelName  string          `json:"base_model_name" db:"base_model_name"`
	TriggerToken   string          `json:"trigger_token" db:"trigger_token"`
	TrainConfig    json.RawMessage `json:"train_config,omitempty" db:"train_config"`
	ArtifactPrefix string          `json:"artifact_prefix,omitempty" db:"artifact_prefix"`
	Status         VersionStatus   `json:"status" db:"status"`
	ErrorMessage   string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}
