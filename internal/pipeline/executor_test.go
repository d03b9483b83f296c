package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/your-org/lorapix/internal/models"
)

func newTestExecutor(t *testing.T, store *memStore, blobs *memBlobs, train TrainFunc, generate GenerateFunc) *Executor {
	t.Helper()
	return NewExecutor(store, blobs, NewNormalizer(store, blobs, 1024, 95), ExecutorOptions{
		Train:          train,
		Generate:       generate,
		ProgressStride: 10,
		ThumbnailDim:   256,
		WorkDir:        t.TempDir(),
	})
}

func TestExecuteSkipsTerminalJob(t *testing.T) {
	store := newMemStore()
	blobs := newMemBlobs()
	person := store.addPerson(true, true)
	ctx := context.Background()

	run, job, err := store.CreatePreprocessJob(ctx, person.ID)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := store.FailPreprocess(ctx, run.ID, job.ID, "earlier attempt failed"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	e := newTestExecutor(t, store, blobs, nil, nil)
	if err := e.Execute(ctx, models.JobTask{JobID: job.ID, Stage: job.Stage, PersonID: person.ID}); err != nil {
		t.Fatalf("redelivered terminal job must ack, got %v", err)
	}

	got, _ := store.GetRun(ctx, run.ID)
	if got.Status != models.RunStatusFailed || got.ErrorMessage != "earlier attempt failed" {
		t.Fatalf("terminal run mutated: %+v", got)
	}
	if events := store.eventsOfType(job.ID, models.JobEventLog); len(events) != 0 {
		t.Fatalf("terminal job produced %d new events", len(events))
	}
}

func TestExecuteAcksUnknownJob(t *testing.T) {
	store := newMemStore()
	e := newTestExecutor(t, store, newMemBlobs(), nil, nil)
	task := models.JobTask{JobID: uuid.New(), Stage: models.PreprocessRef(uuid.New())}
	if err := e.Execute(context.Background(), task); err != nil {
		t.Fatalf("unknown job must ack, got %v", err)
	}
}

func TestExecutePreprocessHappyPath(t *testing.T) {
	store := newMemStore()
	blobs := newMemBlobs()
	person := store.addPerson(true, true)
	ctx := context.Background()

	for i, data := range [][]byte{rampJPEG(true, 64), rampJPEG(false, 64), rampJPEG(true, 64)} {
		p := store.addPhoto(person.ID, UploadKey(person.ID, string(rune('a'+i))+".jpg"))
		blobs.objects[p.StorageKey] = data
	}

	run, job, err := store.CreatePreprocessJob(ctx, person.ID)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	e := newTestExecutor(t, store, blobs, nil, nil)
	if err := e.Execute(ctx, models.JobTask{JobID: job.ID, Stage: job.Stage, PersonID: person.ID}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := store.GetRun(ctx, run.ID)
	if got.Status != models.RunStatusFinished {
		t.Fatalf("run status = %s, want finished (%s)", got.Status, got.ErrorMessage)
	}
	if got.ImagesAccepted != 2 || got.ImagesDuplicates != 1 || got.ImagesRejected != 0 {
		t.Fatalf("counts = %d/%d/%d, want 2 accepted, 0 rejected, 1 duplicate",
			got.ImagesAccepted, got.ImagesRejected, got.ImagesDuplicates)
	}
	if got.OutputPrefix != DatasetPrefix(person.ID) {
		t.Fatalf("output prefix = %q", got.OutputPrefix)
	}
	if got.FinishedAt == nil || got.StartedAt == nil {
		t.Fatal("timestamps not set")
	}

	gotJob, _ := store.GetJob(ctx, job.ID)
	if gotJob.Status != models.JobStatusFinished {
		t.Fatalf("job status = %s, want finished", gotJob.Status)
	}
	if events := store.eventsOfType(job.ID, models.JobEventMilestone); len(events) != 1 {
		t.Fatalf("got %d milestone events, want 1", len(events))
	}
}

func TestExecutePreprocessFailsWithoutPhotos(t *testing.T) {
	store := newMemStore()
	blobs := newMemBlobs()
	person := store.addPerson(true, true)
	ctx := context.Background()

	run, job, _ := store.CreatePreprocessJob(ctx, person.ID)

	e := newTestExecutor(t, store, blobs, nil, nil)
	err := e.Execute(ctx, models.JobTask{JobID: job.ID, Stage: job.Stage, PersonID: person.ID})
	if err == nil {
		t.Fatal("expected execution error")
	}

	got, _ := store.GetRun(ctx, run.ID)
	if got.Status != models.RunStatusFailed || got.ErrorMessage == "" {
		t.Fatalf("run = %+v, want failed with recorded error", got)
	}
	gotJob, _ := store.GetJob(ctx, job.ID)
	if gotJob.Status != models.JobStatusFailed || gotJob.ErrorMessage != got.ErrorMessage {
		t.Fatalf("job = %+v, want failed with the same error", gotJob)
	}
	if events := store.eventsOfType(job.ID, models.JobEventError); len(events) != 1 {
		t.Fatalf("got %d error events, want 1", len(events))
	}
}

func trainFixtures(t *testing.T, store *memStore, blobs *memBlobs) (*models.PersonProfile, *models.ModelVersion, *models.Job) {
	t.Helper()
	ctx := context.Background()
	person := store.addPerson(true, true)

	run, runJob, _ := store.CreatePreprocessJob(ctx, person.ID)
	if err := store.StartPreprocess(ctx, run.ID, runJob.ID); err != nil {
		t.Fatalf("start run: %v", err)
	}
	prefix := DatasetPrefix(person.ID)
	if err := store.FinishPreprocess(ctx, run.ID, runJob.ID, 2, 0, 0, prefix); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	blobs.objects[prefix+"one.jpg"] = rampJPEG(true, 64)
	blobs.objects[prefix+"two.jpg"] = rampJPEG(false, 64)

	model, _ := store.CreateModel(ctx, person.ID, "test model")
	version := &models.ModelVersion{
		ModelID:       model.ID,
		VersionNumber: 1,
		BaseModelName: "base-v1",
		TriggerToken:  "sks person",
	}
	job, err := store.CreateTrainJob(ctx, version)
	if err != nil {
		t.Fatalf("create train job: %v", err)
	}
	return person, version, job
}

func TestExecuteTrainHappyPath(t *testing.T) {
	store := newMemStore()
	blobs := newMemBlobs()
	ctx := context.Background()
	person, version, job := trainFixtures(t, store, blobs)

	var datasetFiles int
	train := func(_ context.Context, spec TrainSpec, datasetDir, outputDir string, progress ProgressFunc) ([]string, error) {
		if spec.BaseModelName != "base-v1" || spec.TriggerToken != "sks person" {
			t.Fatalf("unexpected spec: %+v", spec)
		}
		entries, err := os.ReadDir(datasetDir)
		if err != nil {
			return nil, err
		}
		datasetFiles = len(entries)
		for step := 1; step <= 100; step++ {
			progress(step, 100, 0.5)
		}
		artifact := filepath.Join(outputDir, "adapter.safetensors")
		if err := os.WriteFile(artifact, []byte("weights"), 0o644); err != nil {
			return nil, err
		}
		return []string{artifact}, nil
	}

	e := newTestExecutor(t, store, blobs, train, nil)
	if err := e.Execute(ctx, models.JobTask{JobID: job.ID, Stage: job.Stage, PersonID: person.ID}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if datasetFiles != 2 {
		t.Fatalf("trainer saw %d dataset files, want 2", datasetFiles)
	}
	got, _ := store.GetModelVersion(ctx, version.ID)
	if got.Status != models.VersionStatusCompleted {
		t.Fatalf("version status = %s (%s), want completed", got.Status, got.ErrorMessage)
	}
	if got.ArtifactPrefix != ArtifactPrefix(version.ID) {
		t.Fatalf("artifact prefix = %q", got.ArtifactPrefix)
	}
	if !blobs.has(ArtifactPrefix(version.ID) + "adapter.safetensors") {
		t.Fatal("artifact not uploaded")
	}
	if events := store.eventsOfType(job.ID, models.JobEventProgress); len(events) != 10 {
		t.Fatalf("got %d progress events, want 10", len(events))
	}
}

func TestExecuteTrainRecordsFailure(t *testing.T) {
	store := newMemStore()
	blobs := newMemBlobs()
	ctx := context.Background()
	person, version, job := trainFixtures(t, store, blobs)

	train := func(context.Context, TrainSpec, string, string, ProgressFunc) ([]string, error) {
		return nil, errors.New("CUDA out of memory")
	}

	e := newTestExecutor(t, store, blobs, train, nil)
	if err := e.Execute(ctx, models.JobTask{JobID: job.ID, Stage: job.Stage, PersonID: person.ID}); err == nil {
		t.Fatal("expected execution error")
	}

	got, _ := store.GetModelVersion(ctx, version.ID)
	if got.Status != models.VersionStatusFailed {
		t.Fatalf("version status = %s, want failed", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("failure reason not recorded")
	}
	gotJob, _ := store.GetJob(ctx, job.ID)
	if gotJob.Status != models.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", gotJob.Status)
	}
}

func TestExecuteGenerateHappyPath(t *testing.T) {
	store := newMemStore()
	blobs := newMemBlobs()
	ctx := context.Background()
	person, version, trainJob := trainFixtures(t, store, blobs)
	if err := store.StartTrain(ctx, version.ID, trainJob.ID); err != nil {
		t.Fatalf("start train: %v", err)
	}
	if err := store.FinishTrain(ctx, version.ID, trainJob.ID, ArtifactPrefix(version.ID)); err != nil {
		t.Fatalf("finish train: %v", err)
	}
	blobs.objects[ArtifactPrefix(version.ID)+"adapter.safetensors"] = []byte("weights")

	gen := &models.Generation{
		ModelVersionID: version.ID,
		Prompt:         "sks person portrait",
		Steps:          30,
		Width:          512,
		Height:         512,
	}
	job, err := store.CreateGenerateJob(ctx, gen)
	if err != nil {
		t.Fatalf("create generate job: %v", err)
	}

	generate := func(_ context.Context, spec GenerateSpec, outputPath string, progress ProgressFunc) error {
		if spec.LoraDir == "" {
			t.Fatal("expected downloaded adapter directory")
		}
		for step := 1; step <= spec.Steps; step++ {
			progress(step, spec.Steps, -1)
		}
		img := image.NewRGBA(image.Rect(0, 0, 512, 512))
		for i := range img.Pix {
			img.Pix[i] = uint8(i)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return err
		}
		return os.WriteFile(outputPath, buf.Bytes(), 0o644)
	}

	e := newTestExecutor(t, store, blobs, nil, generate)
	if err := e.Execute(ctx, models.JobTask{JobID: job.ID, Stage: job.Stage, PersonID: person.ID}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := store.GetGeneration(ctx, gen.ID)
	if got.Status != models.GenerationStatusCompleted {
		t.Fatalf("generation status = %s (%s), want completed", got.Status, got.ErrorMessage)
	}
	if got.OutputKey != OutputKey(gen.ID) || !blobs.has(got.OutputKey) {
		t.Fatalf("output missing: key=%q", got.OutputKey)
	}
	if got.ThumbnailKey != ThumbnailKey(gen.ID) || !blobs.has(got.ThumbnailKey) {
		t.Fatalf("thumbnail missing: key=%q", got.ThumbnailKey)
	}

	thumb, _ := blobs.GetObject(ctx, got.ThumbnailKey)
	img, _, err := image.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if img.Bounds().Dx() != 256 {
		t.Fatalf("thumbnail width = %d, want 256", img.Bounds().Dx())
	}
}

func TestExecuteGenerateFailsWhenEngineProducesNothing(t *testing.T) {
	store := newMemStore()
	blobs := newMemBlobs()
	ctx := context.Background()
	person, version, trainJob := trainFixtures(t, store, blobs)
	_ = store.StartTrain(ctx, version.ID, trainJob.ID)
	_ = store.FinishTrain(ctx, version.ID, trainJob.ID, "")

	gen := &models.Generation{ModelVersionID: version.ID, Prompt: "portrait", Steps: 10, Width: 512, Height: 512}
	job, _ := store.CreateGenerateJob(ctx, gen)

	generate := func(context.Context, GenerateSpec, string, ProgressFunc) error {
		return errors.New("engine crashed")
	}

	e := newTestExecutor(t, store, blobs, nil, generate)
	if err := e.Execute(ctx, models.JobTask{JobID: job.ID, Stage: job.Stage, PersonID: person.ID}); err == nil {
		t.Fatal("expected execution error")
	}

	got, _ := store.GetGeneration(ctx, gen.ID)
	if got.Status != models.GenerationStatusFailed || got.ErrorMessage == "" {
		t.Fatalf("generation = %+v, want failed with recorded error", got)
	}
}
