package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/lorapix/internal/models"
	"github.com/your-org/lorapix/internal/safety"
)

// Orchestrator validates stage preconditions, creates the stage record
// together with its job, and hands the job to the broker. All policy
// lives here; the executor trusts what it dequeues.
type Orchestrator struct {
	store     Store
	blobs     ObjectStore
	tasks     TaskPublisher
	minPhotos int
}

func NewOrchestrator(store Store, blobs ObjectStore, tasks TaskPublisher, minPhotos int) *Orchestrator {
	return &Orchestrator{
		store:     store,
		blobs:     blobs,
		tasks:     tasks,
		minPhotos: minPhotos,
	}
}

// livePerson loads the person and enforces existence plus consent.
func (o *Orchestrator) livePerson(ctx context.Context, personID uuid.UUID) (*models.PersonProfile, error) {
	person, err := o.store.GetPerson(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("load person %s: %w", personID, err)
	}
	if person == nil {
		return nil, preconditionf("person %s not found", personID)
	}
	if err := safety.ValidateConsent(person.ConsentConfirmed, person.SubjectIsAdult); err != nil {
		return nil, &PreconditionError{Reason: err.Error()}
	}
	return person, nil
}

// dispatch publishes the task for a freshly created job and stamps the
// broker task ID back onto it. A publish failure leaves the stage and
// job pending; the caller sees the error and may retry the request.
func (o *Orchestrator) dispatch(ctx context.Context, job *models.Job, personID uuid.UUID) error {
	taskID, err := o.tasks.PublishJob(ctx, models.JobTask{
		JobID:    job.ID,
		Stage:    job.Stage,
		PersonID: personID,
	})
	if err != nil {
		return fmt.Errorf("publish job %s: %w", job.ID, err)
	}
	if err := o.store.SetJobTaskID(ctx, job.ID, taskID); err != nil {
		// The task is already in flight; losing the ID only hurts tracing.
		slog.Warn("record task id", "job_id", job.ID, "task_id", taskID, "error", err)
	}
	job.TaskID = taskID
	return nil
}

// StartPreprocess schedules a dataset build for a person's uploaded photos.
func (o *Orchestrator) StartPreprocess(ctx context.Context, personID uuid.UUID) (*models.PreprocessRun, *models.Job, error) {
	person, err := o.livePerson(ctx, personID)
	if err != nil {
		return nil, nil, err
	}

	count, err := o.store.CountUploadedPhotos(ctx, person.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("count uploaded photos: %w", err)
	}
	if count < o.minPhotos {
		return nil, nil, preconditionf("at least %d photos are required, found %d", o.minPhotos, count)
	}

	run, job, err := o.store.CreatePreprocessJob(ctx, person.ID)
	if err != nil {
		return nil, nil, err
	}
	if err := o.dispatch(ctx, job, person.ID); err != nil {
		return nil, nil, err
	}

	slog.Info("preprocess scheduled", "person_id", person.ID, "run_id", run.ID, "job_id", job.ID)
	return run, job, nil
}

// TrainRequest describes one training attempt. ModelID is optional: when
// absent a new model named ModelName is created for the person.
type TrainRequest struct {
	PersonID      uuid.UUID
	ModelID       *uuid.UUID
	ModelName     string
	BaseModelName string
	TriggerToken  string
	TrainConfig   json.RawMessage
}

// StartTrain schedules training of a new model version from the latest
// finished dataset.
func (o *Orchestrator) StartTrain(ctx context.Context, req TrainRequest) (*models.Model, *models.ModelVersion, *models.Job, error) {
	person, err := o.livePerson(ctx, req.PersonID)
	if err != nil {
		return nil, nil, nil, err
	}

	run, err := o.store.LatestFinishedRun(ctx, person.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load latest finished run: %w", err)
	}
	if run == nil || run.OutputPrefix == "" || run.ImagesAccepted == 0 {
		return nil, nil, nil, preconditionf("no preprocessed dataset found, run preprocessing first")
	}

	var model *models.Model
	if req.ModelID != nil {
		model, err = o.store.GetModel(ctx, *req.ModelID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load model %s: %w", *req.ModelID, err)
		}
		if model == nil {
			return nil, nil, nil, preconditionf("model %s not found", *req.ModelID)
		}
		if model.PersonID != person.ID {
			return nil, nil, nil, preconditionf("model %s does not belong to person %s", model.ID, person.ID)
		}
	} else {
		name := req.ModelName
		if name == "" {
			name = person.Name
		}
		model, err = o.store.CreateModel(ctx, person.ID, name)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	number, err := o.store.NextVersionNumber(ctx, model.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("next version number: %w", err)
	}

	version := &models.ModelVersion{
		ModelID:       model.ID,
		VersionNumber: number,
		BaseModelName: req.BaseModelName,
		TriggerToken:  req.TriggerToken,
		TrainConfig:   req.TrainConfig,
	}
	job, err := o.store.CreateTrainJob(ctx, version)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := o.dispatch(ctx, job, person.ID); err != nil {
		return nil, nil, nil, err
	}

	slog.Info("training scheduled",
		"person_id", person.ID,
		"model_id", model.ID,
		"version_id", version.ID,
		"version", version.VersionNumber,
		"job_id", job.ID,
	)
	return model, version, job, nil
}

// GenerateRequest describes one image-synthesis attempt.
type GenerateRequest struct {
	ModelVersionID uuid.UUID
	Prompt         string
	NegativePrompt string
	Steps          int
	Width          int
	Height         int
	Seed           *int64
}

// StartGenerate schedules image synthesis against a completed version.
// Prompts pass the guardrail scan before any record is created.
func (o *Orchestrator) StartGenerate(ctx context.Context, req GenerateRequest) (*models.Generation, *models.Job, error) {
	if violations := safety.CheckPrompt(req.Prompt, req.NegativePrompt); len(violations) > 0 {
		msgs := make([]string, len(violations))
		for i, v := range violations {
			msgs[i] = v.Message
		}
		return nil, nil, preconditionf("prompt rejected: %s", strings.Join(msgs, "; "))
	}

	version, err := o.store.GetModelVersion(ctx, req.ModelVersionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load model version %s: %w", req.ModelVersionID, err)
	}
	if version == nil {
		return nil, nil, preconditionf("model version %s not found", req.ModelVersionID)
	}
	if version.Status != models.VersionStatusCompleted {
		return nil, nil, preconditionf("model version is not ready (status: %s)", version.Status)
	}

	model, err := o.store.GetModel(ctx, version.ModelID)
	if err != nil {
		return nil, nil, fmt.Errorf("load model %s: %w", version.ModelID, err)
	}
	if model == nil {
		return nil, nil, preconditionf("model %s not found", version.ModelID)
	}
	person, err := o.livePerson(ctx, model.PersonID)
	if err != nil {
		return nil, nil, err
	}

	gen := &models.Generation{
		ModelVersionID: version.ID,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Steps:          req.Steps,
		Width:          req.Width,
		Height:         req.Height,
		Seed:           req.Seed,
	}
	if gen.Steps <= 0 {
		gen.Steps = 50
	}
	if gen.Width <= 0 {
		gen.Width = 512
	}
	if gen.Height <= 0 {
		gen.Height = 512
	}

	job, err := o.store.CreateGenerateJob(ctx, gen)
	if err != nil {
		return nil, nil, err
	}
	if err := o.dispatch(ctx, job, person.ID); err != nil {
		return nil, nil, err
	}

	slog.Info("generation scheduled", "generation_id", gen.ID, "version_id", version.ID, "job_id", job.ID)
	return gen, job, nil
}

// CleanupItem is one blob-store deletion planned for a person wipe.
type CleanupItem struct {
	Key      string
	IsPrefix bool
}

// CleanupResult is the outcome of one planned deletion.
type CleanupResult struct {
	Item CleanupItem
	Err  error
}

// DeletePerson soft-deletes the profile, then removes the person's
// blobs item by item. The row disappears from listings immediately;
// blob failures are reported per item and never resurrect the profile.
func (o *Orchestrator) DeletePerson(ctx context.Context, personID uuid.UUID) ([]CleanupResult, error) {
	person, err := o.store.GetPerson(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("load person %s: %w", personID, err)
	}
	if person == nil {
		return nil, preconditionf("person %s not found", personID)
	}

	plan, err := o.buildCleanupPlan(ctx, person.ID)
	if err != nil {
		return nil, err
	}

	if err := o.store.SoftDeletePerson(ctx, person.ID); err != nil {
		return nil, fmt.Errorf("soft delete person %s: %w", person.ID, err)
	}

	results := make([]CleanupResult, 0, len(plan))
	for _, item := range plan {
		var delErr error
		if item.IsPrefix {
			delErr = o.blobs.DeletePrefix(ctx, item.Key)
		} else {
			delErr = o.blobs.DeleteObject(ctx, item.Key)
		}
		if delErr != nil {
			slog.Warn("cleanup item failed", "person_id", person.ID, "key", item.Key, "error", delErr)
		}
		results = append(results, CleanupResult{Item: item, Err: delErr})
	}

	slog.Info("person deleted", "person_id", person.ID, "cleanup_items", len(plan))
	return results, nil
}

// buildCleanupPlan collects every blob key the person's records point
// at before anything is deleted, so a mid-cleanup fault cannot orphan
// keys silently.
func (o *Orchestrator) buildCleanupPlan(ctx context.Context, personID uuid.UUID) ([]CleanupItem, error) {
	var plan []CleanupItem

	photos, err := o.store.ListPhotos(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	for _, p := range photos {
		plan = append(plan, CleanupItem{Key: p.StorageKey})
	}
	plan = append(plan, CleanupItem{Key: DatasetPrefix(personID), IsPrefix: true})

	mid := personID
	modelList, err := o.store.ListModels(ctx, &mid)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	for _, m := range modelList {
		versions, err := o.store.ListModelVersions(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("list versions for model %s: %w", m.ID, err)
		}
		for _, v := range versions {
			if v.ArtifactPrefix != "" {
				plan = append(plan, CleanupItem{Key: v.ArtifactPrefix, IsPrefix: true})
			}
			gens, err := o.store.ListGenerations(ctx, v.ID)
			if err != nil {
				return nil, fmt.Errorf("list generations for version %s: %w", v.ID, err)
			}
			for _, g := range gens {
				if g.OutputKey != "" {
					plan = append(plan, CleanupItem{Key: g.OutputKey})
				}
				if g.ThumbnailKey != "" {
					plan = append(plan, CleanupItem{Key: g.ThumbnailKey})
				}
			}
		}
	}

	return plan, nil
}
