package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusStarted  RunStatus = "started"
	RunStatusFinished RunStatus = "finished"
	RunStatusFailed   RunStatus = "failed"
)

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusFinished || s == RunStatusFailed
}

// PreprocessRun is one dataset-build attempt for a person. The most
// recent finished run is the authoritative dataset for training.
type PreprocessRun struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	PersonID         uuid.UUID  `json:"person_id" db:"person_id"`
	Status           RunStatus  `json:"status" db:"status"`
	ImagesAccepted   int        `json:"images_accepted" db:"images_accepted"`
	ImagesRejected   int        `json:"images_rejected" db:"images_rejected"`
	ImagesDuplicates int        `json:"images_duplicates" db:"images_duplicates"`
	OutputPrefix     string     `json:"output_prefix,omitempty" db:"output_prefix"`
	ErrorMessage     string     `json:"error_message,omitempty" db:"error_message"`
	StartedAt        *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}
