package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/lorapix/internal/models"
	"github.com/your-org/lorapix/internal/observability"
)

// Executor runs dequeued job tasks to a terminal state. Every path
// through Execute either finishes the stage, fails it with a recorded
// error, or no-ops on a redelivered terminal job.
type Executor struct {
	store      Store
	blobs      ObjectStore
	normalizer *Normalizer
	train      TrainFunc
	generate   GenerateFunc
	events     EventPublisher
	stride     int
	thumbDim   int
	workDir    string
}

type ExecutorOptions struct {
	Train          TrainFunc
	Generate       GenerateFunc
	Events         EventPublisher
	ProgressStride int
	ThumbnailDim   int
	WorkDir        string
}

func NewExecutor(store Store, blobs ObjectStore, normalizer *Normalizer, opts ExecutorOptions) *Executor {
	if opts.ProgressStride < 1 {
		opts.ProgressStride = 1
	}
	if opts.ThumbnailDim < 1 {
		opts.ThumbnailDim = 256
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Executor{
		store:      store,
		blobs:      blobs,
		normalizer: normalizer,
		train:      opts.Train,
		generate:   opts.Generate,
		events:     opts.Events,
		stride:     opts.ProgressStride,
		thumbDim:   opts.ThumbnailDim,
		workDir:    opts.WorkDir,
	}
}

// Execute dispatches one task by stage type. The returned error tells
// the queue layer to redeliver; a nil return acknowledges the message,
// including the no-op paths.
func (e *Executor) Execute(ctx context.Context, task models.JobTask) error {
	job, err := e.store.GetJob(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", task.JobID, err)
	}
	if job == nil {
		slog.Warn("task references unknown job", "job_id", task.JobID)
		return nil
	}
	if job.Status.Terminal() {
		slog.Info("skipping redelivered terminal job", "job_id", job.ID, "status", job.Status)
		return nil
	}

	start := time.Now()
	var execErr error
	switch task.Stage.Type {
	case models.JobTypePreprocess:
		execErr = e.executePreprocess(ctx, job, task)
	case models.JobTypeTrain:
		execErr = e.executeTrain(ctx, job, task)
	case models.JobTypeGenerate:
		execErr = e.executeGenerate(ctx, job, task)
	default:
		slog.Error("unknown stage type", "job_id", job.ID, "type", task.Stage.Type)
		return nil
	}

	status := "finished"
	if execErr != nil {
		status = "failed"
	}
	observability.JobsProcessed.WithLabelValues(string(task.Stage.Type), status).Inc()
	observability.StageDuration.WithLabelValues(string(task.Stage.Type)).Observe(time.Since(start).Seconds())
	return execErr
}

// fail records the stage failure and emits an error event. The original
// error is returned so the caller propagates it to the queue layer.
func (e *Executor) fail(ctx context.Context, jobID uuid.UUID, cause error, record func(string) error) error {
	msg := cause.Error()
	if err := record(msg); err != nil {
		slog.Error("record stage failure", "job_id", jobID, "cause", msg, "error", err)
		return fmt.Errorf("record failure (%s): %w", msg, err)
	}
	e.appendEvent(ctx, jobID, models.JobEventError, msg)
	return cause
}

func (e *Executor) appendEvent(ctx context.Context, jobID uuid.UUID, eventType models.JobEventType, message string) {
	ev, err := e.store.AppendJobEvent(ctx, jobID, eventType, message, nil)
	if err != nil {
		slog.Warn("append job event", "job_id", jobID, "type", eventType, "error", err)
		return
	}
	observability.JobEventsPersisted.WithLabelValues(string(eventType)).Inc()
	if e.events != nil {
		if err := e.events.PublishJobEvent(ctx, ev); err != nil {
			slog.Warn("publish job event", "job_id", jobID, "error", err)
		}
	}
}

func (e *Executor) executePreprocess(ctx context.Context, job *models.Job, task models.JobTask) error {
	run, err := e.store.GetRun(ctx, task.Stage.ID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", task.Stage.ID, err)
	}
	if run == nil {
		slog.Warn("task references unknown run", "run_id", task.Stage.ID)
		return nil
	}
	if run.Status.Terminal() {
		slog.Info("skipping redelivered terminal run", "run_id", run.ID, "status", run.Status)
		return nil
	}

	if err := e.store.StartPreprocess(ctx, run.ID, job.ID); err != nil {
		return fmt.Errorf("start preprocess %s: %w", run.ID, err)
	}
	e.appendEvent(ctx, job.ID, models.JobEventLog, "preprocessing started")

	photos, err := e.store.ListUploadedPhotos(ctx, run.PersonID)
	if err != nil {
		return e.fail(ctx, job.ID, fmt.Errorf("list uploaded photos: %w", err), func(msg string) error {
			return e.store.FailPreprocess(ctx, run.ID, job.ID, msg)
		})
	}
	if len(photos) == 0 {
		cause := fmt.Errorf("no uploaded photos found for person %s", run.PersonID)
		return e.fail(ctx, job.ID, cause, func(msg string) error {
			return e.store.FailPreprocess(ctx, run.ID, job.ID, msg)
		})
	}

	result, err := e.normalizer.Run(ctx, run.PersonID, photos)
	if err != nil {
		return e.fail(ctx, job.ID, err, func(msg string) error {
			return e.store.FailPreprocess(ctx, run.ID, job.ID, msg)
		})
	}

	prefix := DatasetPrefix(run.PersonID)
	if err := e.store.FinishPreprocess(ctx, run.ID, job.ID, result.Accepted, result.Rejected, result.Duplicates, prefix); err != nil {
		return fmt.Errorf("finish preprocess %s: %w", run.ID, err)
	}
	e.appendEvent(ctx, job.ID, models.JobEventMilestone,
		fmt.Sprintf("preprocessing finished: %d accepted, %d rejected, %d duplicates",
			result.Accepted, result.Rejected, result.Duplicates))
	return nil
}

func (e *Executor) executeTrain(ctx context.Context, job *models.Job, task models.JobTask) error {
	version, err := e.store.GetModelVersion(ctx, task.Stage.ID)
	if err != nil {
		return fmt.Errorf("load model version %s: %w", task.Stage.ID, err)
	}
	if version == nil {
		slog.Warn("task references unknown model version", "version_id", task.Stage.ID)
		return nil
	}
	if version.Status.Terminal() {
		slog.Info("skipping redelivered terminal version", "version_id", version.ID, "status", version.Status)
		return nil
	}

	failTrain := func(msg string) error {
		return e.store.FailTrain(ctx, version.ID, job.ID, msg)
	}

	run, err := e.store.LatestFinishedRun(ctx, task.PersonID)
	if err != nil {
		return e.fail(ctx, job.ID, fmt.Errorf("load latest finished run: %w", err), failTrain)
	}
	if run == nil || run.OutputPrefix == "" {
		return e.fail(ctx, job.ID, fmt.Errorf("no preprocessed dataset found for person %s", task.PersonID), failTrain)
	}

	if err := e.store.StartTrain(ctx, version.ID, job.ID); err != nil {
		return fmt.Errorf("start train %s: %w", version.ID, err)
	}
	e.appendEvent(ctx, job.ID, models.JobEventLog,
		fmt.Sprintf("training started (version %d, base %s)", version.VersionNumber, version.BaseModelName))

	workDir, err := os.MkdirTemp(e.workDir, "train-"+version.ID.String()+"-")
	if err != nil {
		return e.fail(ctx, job.ID, fmt.Errorf("create work dir: %w", err), failTrain)
	}
	defer os.RemoveAll(workDir)

	datasetDir := filepath.Join(workDir, "dataset")
	outputDir := filepath.Join(workDir, "output")
	for _, dir := range []string{datasetDir, outputDir} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return e.fail(ctx, job.ID, fmt.Errorf("create %s: %w", dir, err), failTrain)
		}
	}

	n, err := e.downloadPrefix(ctx, run.OutputPrefix, datasetDir)
	if err != nil {
		return e.fail(ctx, job.ID, fmt.Errorf("download dataset: %w", err), failTrain)
	}
	if n == 0 {
		return e.fail(ctx, job.ID, fmt.Errorf("dataset prefix %s is empty", run.OutputPrefix), failTrain)
	}

	reporter := NewReporter(e.store, e.events, job.ID, e.stride)
	spec := TrainSpec{
		BaseModelName: version.BaseModelName,
		TriggerToken:  version.TriggerToken,
		Config:        version.TrainConfig,
	}
	artifacts, err := e.train(ctx, spec, datasetDir, outputDir, reporter.Callback(ctx))
	reporter.Finish(ctx)
	if err != nil {
		return e.fail(ctx, job.ID, fmt.Errorf("training run: %w", err), failTrain)
	}
	if len(artifacts) == 0 {
		return e.fail(ctx, job.ID, fmt.Errorf("training produced no artifacts"), failTrain)
	}

	prefix := ArtifactPrefix(version.ID)
	for _, path := range artifacts {
		data, err := os.ReadFile(path)
		if err != nil {
			return e.fail(ctx, job.ID, fmt.Errorf("read artifact %s: %w", path, err), failTrain)
		}
		key := prefix + filepath.Base(path)
		if err := e.blobs.PutObject(ctx, key, data, "application/octet-stream"); err != nil {
			return e.fail(ctx, job.ID, fmt.Errorf("upload artifact %s: %w", key, err), failTrain)
		}
	}

	if err := e.store.FinishTrain(ctx, version.ID, job.ID, prefix); err != nil {
		return fmt.Errorf("finish train %s: %w", version.ID, err)
	}
	e.appendEvent(ctx, job.ID, models.JobEventMilestone,
		fmt.Sprintf("training finished: %d artifacts at %s", len(artifacts), prefix))
	return nil
}

func (e *Executor) executeGenerate(ctx context.Context, job *models.Job, task models.JobTask) error {
	gen, err := e.store.GetGeneration(ctx, task.Stage.ID)
	if err != nil {
		return fmt.Errorf("load generation %s: %w", task.Stage.ID, err)
	}
	if gen == nil {
		slog.Warn("task references unknown generation", "generation_id", task.Stage.ID)
		return nil
	}
	if gen.Status.Terminal() {
		slog.Info("skipping redelivered terminal generation", "generation_id", gen.ID, "status", gen.Status)
		return nil
	}

	failGen := func(msg string) error {
		return e.store.FailGenerate(ctx, gen.ID, job.ID, msg)
	}

	version, err := e.store.GetModelVersion(ctx, gen.ModelVersionID)
	if err != nil {
		return fmt.Errorf("load model version %s: %w", gen.ModelVersionID, err)
	}
	if version == nil {
		return e.fail(ctx, job.ID, fmt.Errorf("model version %s not found", gen.ModelVersionID), failGen)
	}

	if err := e.store.StartGenerate(ctx, gen.ID, job.ID); err != nil {
		return fmt.Errorf("start generate %s: %w", gen.ID, err)
	}
	e.appendEvent(ctx, job.ID, models.JobEventLog, "generation started")

	workDir, err := os.MkdirTemp(e.workDir, "generate-"+gen.ID.String()+"-")
	if err != nil {
		return e.fail(ctx, job.ID, fmt.Errorf("create work dir: %w", err), failGen)
	}
	defer os.RemoveAll(workDir)

	loraDir := ""
	if version.ArtifactPrefix != "" {
		loraDir = filepath.Join(workDir, "lora")
		if err := os.Mkdir(loraDir, 0o755); err != nil {
			return e.fail(ctx, job.ID, fmt.Errorf("create %s: %w", loraDir, err), failGen)
		}
		if _, err := e.downloadPrefix(ctx, version.ArtifactPrefix, loraDir); err != nil {
			return e.fail(ctx, job.ID, fmt.Errorf("download artifacts: %w", err), failGen)
		}
	}

	outputPath := filepath.Join(workDir, "output.png")
	reporter := NewReporter(e.store, e.events, job.ID, e.stride)
	spec := GenerateSpec{
		Prompt:         gen.Prompt,
		NegativePrompt: gen.NegativePrompt,
		Steps:          gen.Steps,
		Width:          gen.Width,
		Height:         gen.Height,
		Seed:           gen.Seed,
		LoraDir:        loraDir,
	}
	err = e.generate(ctx, spec, outputPath, reporter.Callback(ctx))
	reporter.Finish(ctx)
	if err != nil {
		return e.fail(ctx, job.ID, fmt.Errorf("generation run: %w", err), failGen)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return e.fail(ctx, job.ID, fmt.Errorf("read output: %w", err), failGen)
	}

	outputKey := OutputKey(gen.ID)
	if err := e.blobs.PutObject(ctx, outputKey, data, "image/png"); err != nil {
		return e.fail(ctx, job.ID, fmt.Errorf("upload output: %w", err), failGen)
	}

	// Thumbnail loss is cosmetic; the generation still completes.
	thumbnailKey := ""
	if thumb, err := Thumbnail(data, e.thumbDim); err != nil {
		slog.Warn("build thumbnail", "generation_id", gen.ID, "error", err)
	} else {
		thumbnailKey = ThumbnailKey(gen.ID)
		if err := e.blobs.PutObject(ctx, thumbnailKey, thumb, "image/png"); err != nil {
			slog.Warn("upload thumbnail", "generation_id", gen.ID, "error", err)
			thumbnailKey = ""
		}
	}

	if err := e.store.FinishGenerate(ctx, gen.ID, job.ID, outputKey, thumbnailKey); err != nil {
		return fmt.Errorf("finish generate %s: %w", gen.ID, err)
	}
	e.appendEvent(ctx, job.ID, models.JobEventMilestone, "generation finished: "+outputKey)
	return nil
}

// downloadPrefix mirrors every object under prefix into dir, flattening
// the key's trailing path segment into the file name. Returns the file
// count.
func (e *Executor) downloadPrefix(ctx context.Context, prefix, dir string) (int, error) {
	keys, err := e.blobs.ListObjects(ctx, prefix)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, key := range keys {
		data, err := e.blobs.GetObject(ctx, key)
		if err != nil {
			return count, err
		}
		name := key
		if idx := strings.LastIndex(key, "/"); idx >= 0 {
			name = key[idx+1:]
		}
		if name == "" {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
