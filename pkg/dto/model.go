package dto

import (
	"encoding/json"

	"github.com/google/uuid"
)

type TrainModelRequest struct {
	PersonID      uuid.UUID       `json:"person_id" binding:"required"`
	ModelID       *uuid.UUID      `json:"model_id,omitempty"`
	ModelName     string          `json:"model_name,omitempty"`
	BaseModelName string          `json:"base_model_name" binding:"required"`
	TriggerToken  string          `json:"trigger_token,omitempty"`
	TrainConfig   json.RawMessage `json:"train_config,omitempty"`
}

type ModelResponse struct {
	ID        uuid.UUID `json:"id"`
	PersonID  uuid.UUID `json:"person_id"`
	Name      string    `json:"name"`
	CreatedAt string    `json:"created_at"`
}

type ModelVersionResponse struct {
	ID             uuid.UUID       `json:"id"`
	ModelID        uuid.UUID       `json:"model_id"`
	VersionNumber  int             `json:"version_number"`
	BaseModelName  string          `json:"base_model_name"`
	TriggerToken   string          `json:"trigger_token,omitempty"`
	TrainConfig    json.RawMessage `json:"train_config,omitempty"`
	ArtifactPrefix string          `json:"artifact_prefix,omitempty"`
	Status         string          `json:"status"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	JobID          *uuid.UUID      `json:"job_id,omitempty"`
	CreatedAt      string          `json:"created_at"`
}
