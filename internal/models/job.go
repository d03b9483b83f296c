package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobTypePreprocess JobType = "preprocess"
	JobTypeTrain      JobType = "train"
	JobTypeGenerate   JobType = "generate"
)

type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusStarted  JobStatus = "started"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed
}

// StageRef identifies the single stage record a job drives: a preprocess
// run, a model version or a generation, depending on Type. The reference
// is set at creation and never changes.
type StageRef struct {
	Type JobType   `json:"type"`
	ID   uuid.UUID `json:"id"`
}

func PreprocessRef(runID uuid.UUID) StageRef {
	return StageRef{Type: JobTypePreprocess, ID: runID}
}

func TrainRef(versionID uuid.UUID) StageRef {
	return StageRef{Type: JobTypeTrain, ID: versionID}
}

func GenerateRef(generationID uuid.UUID) StageRef {
	return StageRef{Type: JobTypeGenerate, ID: generationID}
}

// Job correlates one background execution attempt with its stage record.
// Its status mirrors the stage lifecycle.
type Job struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Stage        StageRef   `json:"stage"`
	Status       JobStatus  `json:"status" db:"status"`
	TaskID       string     `json:"task_id,omitempty" db:"task_id"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

type JobEventType string

const (
	JobEventProgress  JobEventType = "progress"
	JobEventLog       JobEventType = "log"
	JobEventError     JobEventType = "error"
	JobEventMilestone JobEventType = "milestone"
)

// JobEvent is one append-only log entry for a job, ordered by creation time.
type JobEvent struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	JobID     uuid.UUID       `json:"job_id" db:"job_id"`
	EventType JobEventType    `json:"event_type" db:"event_type"`
	Message   string          `json:"message" db:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// JobTask is the message published to NATS for worker pickup.
type JobTask struct {
	JobID    uuid.UUID `json:"job_id"`
	Stage    StageRef  `json:"stage"`
	PersonID uuid.UUID `json:"person_id,omitempty"`
}
