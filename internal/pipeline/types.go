package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/your-org/lorapix/internal/models"
)

// ObjectStore is the blob-store surface the pipeline needs. Implemented
// by storage.MinIOStore; tests substitute an in-memory double.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	DeleteObject(ctx context.Context, key string) error
	DeleteObjects(ctx context.Context, keys []string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Store is the relational surface the pipeline needs. Implemented by
// storage.PostgresStore.
type Store interface {
	GetPerson(ctx context.Context, id uuid.UUID) (*models.PersonProfile, error)
	SoftDeletePerson(ctx context.Context, id uuid.UUID) error

	ListPhotos(ctx context.Context, personID uuid.UUID) ([]models.PhotoAsset, error)
	ListUploadedPhotos(ctx context.Context, personID uuid.UUID) ([]models.PhotoAsset, error)
	CountUploadedPhotos(ctx context.Context, personID uuid.UUID) (int, error)
	SetPhotoOutcome(ctx context.Context, photoID uuid.UUID, status models.PhotoStatus, phash string, isDuplicate bool) error

	GetRun(ctx context.Context, id uuid.UUID) (*models.PreprocessRun, error)
	LatestFinishedRun(ctx context.Context, personID uuid.UUID) (*models.PreprocessRun, error)
	ListRuns(ctx context.Context, personID uuid.UUID) ([]models.PreprocessRun, error)

	CreateModel(ctx context.Context, personID uuid.UUID, name string) (*models.Model, error)
	GetModel(ctx context.Context, id uuid.UUID) (*models.Model, error)
	ListModels(ctx context.Context, personID *uuid.UUID) ([]models.Model, error)
	NextVersionNumber(ctx context.Context, modelID uuid.UUID) (int, error)
	GetModelVersion(ctx context.Context, id uuid.UUID) (*models.ModelVersion, error)
	ListModelVersions(ctx context.Context, modelID uuid.UUID) ([]models.ModelVersion, error)

	GetGeneration(ctx context.Context, id uuid.UUID) (*models.Generation, error)
	ListGenerations(ctx context.Context, versionID uuid.UUID) ([]models.Generation, error)

	CreatePreprocessJob(ctx context.Context, personID uuid.UUID) (*models.PreprocessRun, *models.Job, error)
	CreateTrainJob(ctx context.Context, version *models.ModelVersion) (*models.Job, error)
	CreateGenerateJob(ctx context.Context, gen *models.Generation) (*models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	SetJobTaskID(ctx context.Context, jobID uuid.UUID, taskID string) error
	AppendJobEvent(ctx context.Context, jobID uuid.UUID, eventType models.JobEventType, message string, metadata json.RawMessage) (*models.JobEvent, error)

	StartPreprocess(ctx context.Context, runID, jobID uuid.UUID) error
	FinishPreprocess(ctx context.Context, runID, jobID uuid.UUID, accepted, rejected, duplicates int, outputPrefix string) error
	FailPreprocess(ctx context.Context, runID, jobID uuid.UUID, errMsg string) error
	StartTrain(ctx context.Context, versionID, jobID uuid.UUID) error
	FinishTrain(ctx context.Context, versionID, jobID uuid.UUID, artifactPrefix string) error
	FailTrain(ctx context.Context, versionID, jobID uuid.UUID, errMsg string) error
	StartGenerate(ctx context.Context, generationID, jobID uuid.UUID) error
	FinishGenerate(ctx context.Context, generationID, jobID uuid.UUID, outputKey, thumbnailKey string) error
	FailGenerate(ctx context.Context, generationID, jobID uuid.UUID, errMsg string) error
}

// TaskPublisher schedules exactly one execution attempt per created job.
type TaskPublisher interface {
	PublishJob(ctx context.Context, task models.JobTask) (string, error)
}

// EventPublisher fans persisted job events out to live subscribers.
// Publishing is best effort; failures never affect the stage.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, ev *models.JobEvent) error
}

// ProgressFunc is the callback shape the train/generate collaborators
// report through: current step, total steps and an optional metric
// (loss for training, negative when absent).
type ProgressFunc func(current, total int, metric float64)

// TrainSpec carries the immutable training parameters of one version.
type TrainSpec struct {
	BaseModelName string
	TriggerToken  string
	Config        json.RawMessage
}

// TrainFunc runs one training attempt against a local dataset directory
// and writes artifacts into outputDir, returning their paths. It is an
// opaque, slow, fallible collaborator.
type TrainFunc func(ctx context.Context, spec TrainSpec, datasetDir, outputDir string, progress ProgressFunc) ([]string, error)

// GenerateSpec carries the parameters of one image-synthesis request.
type GenerateSpec struct {
	Prompt         string
	NegativePrompt string
	Steps          int
	Width          int
	Height         int
	Seed           *int64
	LoraDir        string
}

// GenerateFunc synthesizes one image into outputPath.
type GenerateFunc func(ctx context.Context, spec GenerateSpec, outputPath string, progress ProgressFunc) error

// PreconditionError is a policy rejection raised before any stage record
// reaches started. It is surfaced synchronously to the caller.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

func preconditionf(format string, args ...interface{}) error {
	return &PreconditionError{Reason: fmt.Sprintf(format, args...)}
}

// Storage key layout. Keys are opaque to the blob store; the pipeline
// composes them deterministically.

func UploadKey(personID uuid.UUID, filename string) string {
	return fmt.Sprintf("uploads/%s/%s", personID, filename)
}

func DatasetPrefix(personID uuid.UUID) string {
	return fmt.Sprintf("datasets/processed/%s/", personID)
}

func ProcessedKey(personID, photoID uuid.UUID) string {
	return fmt.Sprintf("%s%s.jpg", DatasetPrefix(personID), photoID)
}

func ArtifactPrefix(versionID uuid.UUID) string {
	return fmt.Sprintf("models/lora/%s/", versionID)
}

func OutputKey(generationID uuid.UUID) string {
	return fmt.Sprintf("outputs/%s.png", generationID)
}

func ThumbnailKey(generationID uuid.UUID) string {
	return fmt.Sprintf("outputs/thumbnails/%s.png", generationID)
}
