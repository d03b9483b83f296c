package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/lorapix/internal/models"
)

// memStore is an in-memory Store for tests. Methods hold the mutex for
// their whole body; the pipeline under test is sequential per job, so
// no finer grain is needed.
type memStore struct {
	mu         sync.Mutex
	persons    map[uuid.UUID]*models.PersonProfile
	photos     map[uuid.UUID]*models.PhotoAsset
	photoOrder []uuid.UUID
	runs       map[uuid.UUID]*models.PreprocessRun
	runOrder   []uuid.UUID
	loraModels map[uuid.UUID]*models.Model
	versions   map[uuid.UUID]*models.ModelVersion
	gens       map[uuid.UUID]*models.Generation
	jobs       map[uuid.UUID]*models.Job
	events     []models.JobEvent

	outcomeErr error // injected SetPhotoOutcome fault
}

func newMemStore() *memStore {
	return &memStore{
		persons:    make(map[uuid.UUID]*models.PersonProfile),
		photos:     make(map[uuid.UUID]*models.PhotoAsset),
		runs:       make(map[uuid.UUID]*models.PreprocessRun),
		loraModels: make(map[uuid.UUID]*models.Model),
		versions:   make(map[uuid.UUID]*models.ModelVersion),
		gens:       make(map[uuid.UUID]*models.Generation),
		jobs:       make(map[uuid.UUID]*models.Job),
	}
}

func (s *memStore) addPerson(consent, adult bool) *models.PersonProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &models.PersonProfile{
		ID:               uuid.New(),
		Name:             "test person",
		ConsentConfirmed: consent,
		SubjectIsAdult:   adult,
		CreatedAt:        time.Now(),
	}
	s.persons[p.ID] = p
	return p
}

func (s *memStore) addPhoto(personID uuid.UUID, key string) *models.PhotoAsset {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &models.PhotoAsset{
		ID:         uuid.New(),
		PersonID:   personID,
		StorageKey: key,
		Status:     models.PhotoStatusUploaded,
		CreatedAt:  time.Now(),
	}
	s.photos[p.ID] = p
	s.photoOrder = append(s.photoOrder, p.ID)
	return p
}

func (s *memStore) GetPerson(_ context.Context, id uuid.UUID) (*models.PersonProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.persons[id]
	if !ok || p.DeletedAt != nil {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) SoftDeletePerson(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.persons[id]
	if !ok {
		return fmt.Errorf("person %s not found", id)
	}
	now := time.Now()
	p.DeletedAt = &now
	return nil
}

func (s *memStore) ListPhotos(_ context.Context, personID uuid.UUID) ([]models.PhotoAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PhotoAsset
	for _, id := range s.photoOrder {
		if p := s.photos[id]; p.PersonID == personID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) ListUploadedPhotos(_ context.Context, personID uuid.UUID) ([]models.PhotoAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PhotoAsset
	for _, id := range s.photoOrder {
		if p := s.photos[id]; p.PersonID == personID && p.Status == models.PhotoStatusUploaded {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) CountUploadedPhotos(ctx context.Context, personID uuid.UUID) (int, error) {
	photos, err := s.ListUploadedPhotos(ctx, personID)
	return len(photos), err
}

func (s *memStore) SetPhotoOutcome(_ context.Context, photoID uuid.UUID, status models.PhotoStatus, phash string, isDuplicate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomeErr != nil {
		return s.outcomeErr
	}
	p, ok := s.photos[photoID]
	if !ok {
		return fmt.Errorf("photo %s not found", photoID)
	}
	p.Status = status
	if p.PHash == "" && phash != "" {
		p.PHash = phash
	}
	p.IsDuplicate = isDuplicate
	return nil
}

func (s *memStore) GetRun(_ context.Context, id uuid.UUID) (*models.PreprocessRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) LatestFinishedRun(_ context.Context, personID uuid.UUID) (*models.PreprocessRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		r := s.runs[s.runOrder[i]]
		if r.PersonID == personID && r.Status == models.RunStatusFinished {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListRuns(_ context.Context, personID uuid.UUID) ([]models.PreprocessRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PreprocessRun
	for _, id := range s.runOrder {
		if r := s.runs[id]; r.PersonID == personID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) CreateModel(_ context.Context, personID uuid.UUID, name string) (*models.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &models.Model{
		ID:        uuid.New(),
		PersonID:  personID,
		Name:      name,
		CreatedAt: time.Now(),
	}
	s.loraModels[m.ID] = m
	cp := *m
	return &cp, nil
}

func (s *memStore) GetModel(_ context.Context, id uuid.UUID) (*models.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.loraModels[id]
	if !ok || m.DeletedAt != nil {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) ListModels(_ context.Context, personID *uuid.UUID) ([]models.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Model
	for _, m := range s.loraModels {
		if m.DeletedAt != nil {
			continue
		}
		if personID != nil && m.PersonID != *personID {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (s *memStore) NextVersionNumber(_ context.Context, modelID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, v := range s.versions {
		if v.ModelID == modelID && v.VersionNumber > max {
			max = v.VersionNumber
		}
	}
	return max + 1, nil
}

func (s *memStore) GetModelVersion(_ context.Context, id uuid.UUID) (*models.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (s *memStore) ListModelVersions(_ context.Context, modelID uuid.UUID) ([]models.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ModelVersion
	for _, v := range s.versions {
		if v.ModelID == modelID {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (s *memStore) GetGeneration(_ context.Context, id uuid.UUID) (*models.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gens[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (s *memStore) ListGenerations(_ context.Context, versionID uuid.UUID) ([]models.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Generation
	for _, g := range s.gens {
		if g.ModelVersionID == versionID {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (s *memStore) CreatePreprocessJob(_ context.Context, personID uuid.UUID) (*models.PreprocessRun, *models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &models.PreprocessRun{
		ID:        uuid.New(),
		PersonID:  personID,
		Status:    models.RunStatusPending,
		CreatedAt: time.Now(),
	}
	s.runs[run.ID] = run
	s.runOrder = append(s.runOrder, run.ID)
	job := s.insertJobLocked(models.PreprocessRef(run.ID))
	rc, jc := *run, *job
	return &rc, &jc, nil
}

func (s *memStore) CreateTrainJob(_ context.Context, version *models.ModelVersion) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version.ID = uuid.New()
	version.Status = models.VersionStatusPending
	if version.TrainConfig == nil {
		version.TrainConfig = json.RawMessage("{}")
	}
	version.CreatedAt = time.Now()
	cp := *version
	s.versions[version.ID] = &cp
	job := s.insertJobLocked(models.TrainRef(version.ID))
	jc := *job
	return &jc, nil
}

func (s *memStore) CreateGenerateJob(_ context.Context, gen *models.Generation) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen.ID = uuid.New()
	gen.Status = models.GenerationStatusPending
	gen.CreatedAt = time.Now()
	cp := *gen
	s.gens[gen.ID] = &cp
	job := s.insertJobLocked(models.GenerateRef(gen.ID))
	jc := *job
	return &jc, nil
}

func (s *memStore) insertJobLocked(stage models.StageRef) *models.Job {
	job := &models.Job{
		ID:        uuid.New(),
		Stage:     stage,
		Status:    models.JobStatusPending,
		CreatedAt: time.Now(),
	}
	s.jobs[job.ID] = job
	return job
}

func (s *memStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) SetJobTaskID(_ context.Context, jobID uuid.UUID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	j.TaskID = taskID
	return nil
}

func (s *memStore) AppendJobEvent(_ context.Context, jobID uuid.UUID, eventType models.JobEventType, message string, metadata json.RawMessage) (*models.JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := models.JobEvent{
		ID:        uuid.New(),
		JobID:     jobID,
		EventType: eventType,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	s.events = append(s.events, ev)
	cp := ev
	return &cp, nil
}

func (s *memStore) eventsOfType(jobID uuid.UUID, eventType models.JobEventType) []models.JobEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.JobEvent
	for _, ev := range s.events {
		if ev.JobID == jobID && ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (s *memStore) markJob(jobID uuid.UUID, status models.JobStatus, errMsg string) error {
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	now := time.Now()
	j.Status = status
	j.ErrorMessage = errMsg
	switch status {
	case models.JobStatusStarted:
		j.StartedAt = &now
	case models.JobStatusFinished, models.JobStatusFailed:
		j.FinishedAt = &now
	}
	return nil
}

func (s *memStore) StartPreprocess(_ context.Context, runID, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	now := time.Now()
	r.Status = models.RunStatusStarted
	r.StartedAt = &now
	return s.markJob(jobID, models.JobStatusStarted, "")
}

func (s *memStore) FinishPreprocess(_ context.Context, runID, jobID uuid.UUID, accepted, rejected, duplicates int, outputPrefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	now := time.Now()
	r.Status = models.RunStatusFinished
	r.ImagesAccepted = accepted
	r.ImagesRejected = rejected
	r.ImagesDuplicates = duplicates
	r.OutputPrefix = outputPrefix
	r.FinishedAt = &now
	return s.markJob(jobID, models.JobStatusFinished, "")
}

func (s *memStore) FailPreprocess(_ context.Context, runID, jobID uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	now := time.Now()
	r.Status = models.RunStatusFailed
	r.ErrorMessage = errMsg
	r.FinishedAt = &now
	return s.markJob(jobID, models.JobStatusFailed, errMsg)
}

func (s *memStore) StartTrain(_ context.Context, versionID, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[versionID]
	if !ok {
		return fmt.Errorf("version %s not found", versionID)
	}
	v.Status = models.VersionStatusTraining
	return s.markJob(jobID, models.JobStatusStarted, "")
}

func (s *memStore) FinishTrain(_ context.Context, versionID, jobID uuid.UUID, artifactPrefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[versionID]
	if !ok {
		return fmt.Errorf("version %s not found", versionID)
	}
	v.Status = models.VersionStatusCompleted
	v.ArtifactPrefix = artifactPrefix
	return s.markJob(jobID, models.JobStatusFinished, "")
}

func (s *memStore) FailTrain(_ context.Context, versionID, jobID uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[versionID]
	if !ok {
		return fmt.Errorf("version %s not found", versionID)
	}
	v.Status = models.VersionStatusFailed
	v.ErrorMessage = errMsg
	return s.markJob(jobID, models.JobStatusFailed, errMsg)
}

func (s *memStore) StartGenerate(_ context.Context, generationID, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gens[generationID]
	if !ok {
		return fmt.Errorf("generation %s not found", generationID)
	}
	g.Status = models.GenerationStatusGenerating
	return s.markJob(jobID, models.JobStatusStarted, "")
}

func (s *memStore) FinishGenerate(_ context.Context, generationID, jobID uuid.UUID, outputKey, thumbnailKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gens[generationID]
	if !ok {
		return fmt.Errorf("generation %s not found", generationID)
	}
	g.Status = models.GenerationStatusCompleted
	g.OutputKey = outputKey
	g.ThumbnailKey = thumbnailKey
	return s.markJob(jobID, models.JobStatusFinished, "")
}

func (s *memStore) FailGenerate(_ context.Context, generationID, jobID uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gens[generationID]
	if !ok {
		return fmt.Errorf("generation %s not found", generationID)
	}
	g.Status = models.GenerationStatusFailed
	g.ErrorMessage = errMsg
	return s.markJob(jobID, models.JobStatusFailed, errMsg)
}

// memBlobs is an in-memory ObjectStore.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  map[string]error
	delErr  map[string]error
	putErr  error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{
		objects: make(map[string][]byte),
		getErr:  make(map[string]error),
		delErr:  make(map[string]error),
	}
}

func (b *memBlobs) PutObject(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return b.putErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.objects[key] = cp
	return nil
}

func (b *memBlobs) GetObject(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.getErr[key]; ok {
		return nil, err
	}
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (b *memBlobs) ListObjects(_ context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for key := range b.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (b *memBlobs) DeleteObject(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.delErr[key]; ok {
		return err
	}
	delete(b.objects, key)
	return nil
}

func (b *memBlobs) DeleteObjects(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := b.DeleteObject(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (b *memBlobs) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := b.ListObjects(ctx, prefix)
	if err != nil {
		return err
	}
	return b.DeleteObjects(ctx, keys)
}

func (b *memBlobs) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

// fakeQueue implements TaskPublisher and EventPublisher.
type fakeQueue struct {
	mu         sync.Mutex
	tasks      []models.JobTask
	events     []*models.JobEvent
	publishErr error
}

func (q *fakeQueue) PublishJob(_ context.Context, task models.JobTask) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return "", q.publishErr
	}
	q.tasks = append(q.tasks, task)
	return uuid.New().String(), nil
}

func (q *fakeQueue) PublishJobEvent(_ context.Context, ev *models.JobEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	return nil
}

// rampJPEG encodes a small grayscale ramp. Horizontal and vertical
// ramps fingerprint differently; identical calls produce identical
// bytes, which is what the duplicate tests rely on.
func rampJPEG(horizontal bool, size int) []byte {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := x
			if !horizontal {
				v = y
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v * 255 / size)})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
