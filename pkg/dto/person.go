package dto

import "github.com/google/uuid"

type CreatePersonRequest struct {
	Name             string `json:"name" binding:"required"`
	ConsentConfirmed bool   `json:"consent_confirmed"`
	SubjectIsAdult   bool   `json:"subject_is_adult"`
}

type PersonResponse struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	ConsentConfirmed bool      `json:"consent_confirmed"`
	SubjectIsAdult   bool      `json:"subject_is_adult"`
	PhotoCount       int       `json:"photo_count"`
	CreatedAt        string    `json:"created_at"`
}

// PresignUploadRequest asks for a direct-upload URL for one photo.
type PresignUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
	SizeBytes   int64  `json:"size_bytes" binding:"required"`
}

type PresignUploadResponse struct {
	UploadURL  string `json:"upload_url"`
	StorageKey string `json:"storage_key"`
	ExpiresIn  int    `json:"expires_in"`
}

// CompleteUploadRequest registers a photo after the client has PUT the
// bytes to the presigned URL.
type CompleteUploadRequest struct {
	StorageKey  string `json:"storage_key" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
	SizeBytes   int64  `json:"size_bytes" binding:"required"`
}

type PhotoResponse struct {
	ID          uuid.UUID `json:"id"`
	PersonID    uuid.UUID `json:"person_id"`
	StorageKey  string    `json:"storage_key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Status      string    `json:"status"`
	IsDuplicate bool      `json:"is_duplicate"`
	CreatedAt   string    `json:"created_at"`
}

type PhotoURLResponse struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

type RunResponse struct {
	ID               uuid.UUID  `json:"id"`
	PersonID         uuid.UUID  `json:"person_id"`
	Status           string     `json:"status"`
	ImagesAccepted   int        `json:"images_accepted"`
	ImagesRejected   int        `json:"images_rejected"`
	ImagesDuplicates int        `json:"images_duplicates"`
	OutputPrefix     string     `json:"output_prefix,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	JobID            *uuid.UUID `json:"job_id,omitempty"`
	CreatedAt        string     `json:"created_at"`
}

// CleanupItemResult reports one blob deletion from a person wipe.
type CleanupItemResult struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
	Error   string `json:"error,omitempty"`
}
