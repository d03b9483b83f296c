package models

import (
	"time"

	"github.com/google/uuid"
)

type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusGenerating GenerationStatus = "generating"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
)

func (s GenerationStatus) Terminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed
}

// Generation is one image-synthesis request against a completed model version.
type Generation struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	ModelVersionID uuid.UUID        `json:"model_version_id" db:"model_version_id"`
	Prompt         string           `json:"prompt" db:"prompt"`
	NegativePrompt string           `json:"negative_prompt,omitempty" db:"negative_prompt"`
	Steps          int              `json:"steps" db:"steps"`
	Width          int              `json:"width" db:"width"`
	Height         int              `json:"height" db:"height"`
	Seed           *int64           `json:"seed,omitempty" db:"seed"`
	Status         GenerationStatus `json:"status" db:"status"`
	OutputKey      string           `json:"output_key,omitempty" db:"output_key"`
	ThumbnailKey   string           `json:"thumbnail_key,omitempty" db:"thumbnail_key"`
	ErrorMessage   string           `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}
