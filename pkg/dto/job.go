package dto

import (
	"encoding/json"

	"github.com/google/uuid"
)

type JobResponse struct {
	ID           uuid.UUID `json:"id"`
	StageType    string    `json:"stage_type"`
	StageID      uuid.UUID `json:"stage_id"`
	Status       string    `json:"status"`
	TaskID       string    `json:"task_id,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    string    `json:"started_at,omitempty"`
	FinishedAt   string    `json:"finished_at,omitempty"`
	CreatedAt    string    `json:"created_at"`
}

type JobEventResponse struct {
	ID        uuid.UUID       `json:"id"`
	JobID     uuid.UUID       `json:"job_id"`
	EventType string          `json:"event_type"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt string          `json:"created_at"`
}
