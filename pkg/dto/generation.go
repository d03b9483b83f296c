package dto

import "github.com/google/uuid"

type GenerateRequest struct {
	ModelVersionID uuid.UUID `json:"model_version_id" binding:"required"`
	Prompt         string    `json:"prompt" binding:"required"`
	NegativePrompt string    `json:"negative_prompt,omitempty"`
	Steps          int       `json:"steps,omitempty"`
	Width          int       `json:"width,omitempty"`
	Height         int       `json:"height,omitempty"`
	Seed           *int64    `json:"seed,omitempty"`
}

type GenerationResponse struct {
	ID             uuid.UUID  `json:"id"`
	ModelVersionID uuid.UUID  `json:"model_version_id"`
	Prompt         string     `json:"prompt"`
	NegativePrompt string     `json:"negative_prompt,omitempty"`
	Steps          int        `json:"steps"`
	Width          int        `json:"width"`
	Height         int        `json:"height"`
	Seed           *int64     `json:"seed,omitempty"`
	Status         string     `json:"status"`
	OutputKey      string     `json:"output_key,omitempty"`
	ThumbnailKey   string     `json:"thumbnail_key,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	JobID          *uuid.UUID `json:"job_id,omitempty"`
	CreatedAt      string     `json:"created_at"`
}

type GenerationURLResponse struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
}
