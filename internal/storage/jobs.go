package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/lorapix/internal/models"
)

// --- Models & versions ---

func (s *PostgresStore) CreateModel(ctx context.Context, personID uuid.UUID, name string) (*models.Model, error) {
	m := &models.Model{
		ID:       uuid.New(),
		PersonID: personID,
		Name:     name,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO lora_models (id, person_id, name) VALUES ($1, $2, $3) RETURNING created_at, updated_at`,
		m.ID, m.PersonID, m.Name,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create model: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) GetModel(ctx context.Context, id uuid.UUID) (*models.Model, error) {
	m := &models.Model{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, person_id, name, deleted_at, created_at, updated_at
		 FROM lora_models WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&m.ID, &m.PersonID, &m.Name, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get model: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListModels(ctx context.Context, personID *uuid.UUID) ([]models.Model, error) {
	query := `SELECT id, person_id, name, deleted_at, created_at, updated_at
	          FROM lora_models WHERE deleted_at IS NULL ORDER BY created_at DESC`
	args := []interface{}{}
	if personID != nil {
		query = `SELECT id, person_id, name, deleted_at, created_at, updated_at
		         FROM lora_models WHERE deleted_at IS NULL AND person_id = $1 ORDER BY created_at DESC`
		args = append(args, *personID)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var out []models.Model
	for rows.Next() {
		var m models.Model
		if err := rows.Scan(&m.ID, &m.PersonID, &m.Name, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

const versionColumns = `id, model_id, version_number, base_model_name, trigger_token, train_config,
       COALESCE(artifact_prefix, ''), status, COALESCE(error_message, ''), created_at, updated_at`

func scanVersion(row pgx.Row) (*models.ModelVersion, error) {
	v := &models.ModelVersion{}
	err := row.Scan(&v.ID, &v.ModelID, &v.VersionNumber, &v.BaseModelName, &v.TriggerToken, &v.TrainConfig,
		&v.ArtifactPrefix, &v.Status, &v.ErrorMessage, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *PostgresStore) GetModelVersion(ctx context.Context, id uuid.UUID) (*models.ModelVersion, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM model_versions WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get model version: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListModelVersions(ctx context.Context, modelID uuid.UUID) ([]models.ModelVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+versionColumns+` FROM model_versions WHERE model_id = $1 ORDER BY version_number ASC`, modelID)
	if err != nil {
		return nil, fmt.Errorf("list model versions: %w", err)
	}
	defer rows.Close()

	var out []models.ModelVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model version: %w", err)
		}
		out = append(out, *v)
	}
	return out, nil
}

// --- Generations ---

const generationColumns = `id, model_version_id, prompt, COALESCE(negative_prompt, ''), steps, width, height, seed,
       status, COALESCE(output_key, ''), COALESCE(thumbnail_key, ''), COALESCE(error_message, ''), created_at, updated_at`

func scanGeneration(row pgx.Row) (*models.Generation, error) {
	g := &models.Generation{}
	err := row.Scan(&g.ID, &g.ModelVersionID, &g.Prompt, &g.NegativePrompt, &g.Steps, &g.Width, &g.Height, &g.Seed,
		&g.Status, &g.OutputKey, &g.ThumbnailKey, &g.ErrorMessage, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *PostgresStore) GetGeneration(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	g, err := scanGeneration(s.pool.QueryRow(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) ListGenerations(ctx context.Context, versionID uuid.UUID) ([]models.Generation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE model_version_id = $1 ORDER BY created_at DESC`, versionID)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var out []models.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		out = append(out, *g)
	}
	return out, nil
}

// --- Jobs ---

const jobColumns = `id, job_type, status, COALESCE(task_id, ''), preprocess_run_id, model_version_id, generation_id,
       COALESCE(error_message, ''), started_at, finished_at, created_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	j := &models.Job{}
	var jobType models.JobType
	var runID, versionID, generationID *uuid.UUID
	err := row.Scan(&j.ID, &jobType, &j.Status, &j.TaskID, &runID, &versionID, &generationID,
		&j.ErrorMessage, &j.StartedAt, &j.FinishedAt, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	var stageID *uuid.UUID
	switch jobType {
	case models.JobTypePreprocess:
		stageID = runID
	case models.JobTypeTrain:
		stageID = versionID
	case models.JobTypeGenerate:
		stageID = generationID
	default:
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
	if stageID == nil {
		return nil, fmt.Errorf("job %s has type %q but no stage reference", j.ID, jobType)
	}
	j.Stage = models.StageRef{Type: jobType, ID: *stageID}
	return j, nil
}

// stageColumn maps a stage reference onto the nullable FK column holding it.
func stageColumn(ref models.StageRef) (string, error) {
	switch ref.Type {
	case models.JobTypePreprocess:
		return "preprocess_run_id", nil
	case models.JobTypeTrain:
		return "model_version_id", nil
	case models.JobTypeGenerate:
		return "generation_id", nil
	}
	return "", fmt.Errorf("unknown job type %q", ref.Type)
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// GetJobByStage returns the job driving the given stage record, or nil.
func (s *PostgresStore) GetJobByStage(ctx context.Context, ref models.StageRef) (*models.Job, error) {
	col, err := stageColumn(ref)
	if err != nil {
		return nil, err
	}
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE `+col+` = $1`, ref.ID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get job by stage: %w", err)
	}
	return j, nil
}

// SetJobTaskID records the queue correlation id after publish.
func (s *PostgresStore) SetJobTaskID(ctx context.Context, jobID uuid.UUID, taskID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET task_id = $1 WHERE id = $2`, taskID, jobID)
	if err != nil {
		return fmt.Errorf("set job task id: %w", err)
	}
	return nil
}

func insertJob(ctx context.Context, tx pgx.Tx, j *models.Job) error {
	col, err := stageColumn(j.Stage)
	if err != nil {
		return err
	}
	return tx.QueryRow(ctx,
		`INSERT INTO jobs (id, job_type, status, `+col+`) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		j.ID, j.Stage.Type, j.Status, j.Stage.ID,
	).Scan(&j.CreatedAt)
}

// --- Job events ---

// AppendJobEvent writes one append-only event for a job.
func (s *PostgresStore) AppendJobEvent(ctx context.Context, jobID uuid.UUID, eventType models.JobEventType, message string, metadata json.RawMessage) (*models.JobEvent, error) {
	ev := &models.JobEvent{
		ID:        uuid.New(),
		JobID:     jobID,
		EventType: eventType,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if ev.Metadata == nil {
		ev.Metadata = json.RawMessage("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_events (id, job_id, event_type, message, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.JobID, ev.EventType, ev.Message, ev.Metadata, ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append job event: %w", err)
	}
	return ev, nil
}

// ListJobEvents returns the most recent events for a job, newest first.
func (s *PostgresStore) ListJobEvents(ctx context.Context, jobID uuid.UUID, limit int) ([]models.JobEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, event_type, message, metadata, created_at
		 FROM job_events WHERE job_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()

	var events []models.JobEvent
	for rows.Next() {
		var ev models.JobEvent
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.EventType, &ev.Message, &ev.Metadata, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// --- Stage + job creation (atomic) ---

// CreatePreprocessJob inserts a pending run and its job in one transaction.
func (s *PostgresStore) CreatePreprocessJob(ctx context.Context, personID uuid.UUID) (*models.PreprocessRun, *models.Job, error) {
	run := &models.PreprocessRun{
		ID:       uuid.New(),
		PersonID: personID,
		Status:   models.RunStatusPending,
	}
	job := &models.Job{
		ID:     uuid.New(),
		Stage:  models.PreprocessRef(run.ID),
		Status: models.JobStatusPending,
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO preprocess_runs (id, person_id, status) VALUES ($1, $2, $3) RETURNING created_at`,
			run.ID, run.PersonID, run.Status,
		).Scan(&run.CreatedAt); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		if err := insertJob(ctx, tx, job); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return run, job, nil
}

// CreateTrainJob inserts a pending model version and its job in one transaction.
// The version's training parameters are fixed here and never change.
func (s *PostgresStore) CreateTrainJob(ctx context.Context, version *models.ModelVersion) (*models.Job, error) {
	version.ID = uuid.New()
	version.Status = models.VersionStatusPending
	if version.TrainConfig == nil {
		version.TrainConfig = json.RawMessage("{}")
	}
	job := &models.Job{
		ID:     uuid.New(),
		Stage:  models.TrainRef(version.ID),
		Status: models.JobStatusPending,
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO model_versions (id, model_id, version_number, base_model_name, trigger_token, train_config, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`,
			version.ID, version.ModelID, version.VersionNumber, version.BaseModelName, version.TriggerToken,
			version.TrainConfig, version.Status,
		).Scan(&version.CreatedAt, &version.UpdatedAt); err != nil {
			return fmt.Errorf("insert model version: %w", err)
		}
		if err := insertJob(ctx, tx, job); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// NextVersionNumber returns prior max + 1 for the model.
func (s *PostgresStore) NextVersionNumber(ctx context.Context, modelID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM model_versions WHERE model_id = $1`, modelID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next version number: %w", err)
	}
	return n, nil
}

// CreateGenerateJob inserts a pending generation and its job in one transaction.
func (s *PostgresStore) CreateGenerateJob(ctx context.Context, gen *models.Generation) (*models.Job, error) {
	gen.ID = uuid.New()
	gen.Status = models.GenerationStatusPending
	job := &models.Job{
		ID:     uuid.New(),
		Stage:  models.GenerateRef(gen.ID),
		Status: models.JobStatusPending,
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO generations (id, model_version_id, prompt, negative_prompt, steps, width, height, seed, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at, updated_at`,
			gen.ID, gen.ModelVersionID, gen.Prompt, gen.NegativePrompt, gen.Steps, gen.Width, gen.Height, gen.Seed, gen.Status,
		).Scan(&gen.CreatedAt, &gen.UpdatedAt); err != nil {
			return fmt.Errorf("insert generation: %w", err)
		}
		if err := insertJob(ctx, tx, job); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// --- Stage + job transitions (same transaction, statuses never diverge) ---

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) StartPreprocess(ctx context.Context, runID, jobID uuid.UUID) error {
	now := time.Now()
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE preprocess_runs SET status = 'started', started_at = $1 WHERE id = $2`, now, runID); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'started', started_at = $1 WHERE id = $2`, now, jobID); err != nil {
			return fmt.Errorf("start job: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) FinishPreprocess(ctx context.Context, runID, jobID uuid.UUID, accepted, rejected, duplicates int, outputPrefix string) error {
	now := time.Now()
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE preprocess_runs SET status = 'finished', images_accepted = $1, images_rejected = $2,
			        images_duplicates = $3, output_prefix = $4, finished_at = $5 WHERE id = $6`,
			accepted, rejected, duplicates, outputPrefix, now, runID); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'finished', finished_at = $1 WHERE id = $2`, now, jobID); err != nil {
			return fmt.Errorf("finish job: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) FailPreprocess(ctx context.Context, runID, jobID uuid.UUID, errMsg string) error {
	now := time.Now()
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE preprocess_runs SET status = 'failed', error_message = $1, finished_at = $2 WHERE id = $3`,
			errMsg, now, runID); err != nil {
			return fmt.Errorf("fail run: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'failed', error_message = $1, finished_at = $2 WHERE id = $3`,
			errMsg, now, jobID); err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) StartTrain(ctx context.Context, versionID, jobID uuid.UUID) error {
	now := time.Now()
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE model_versions SET status = 'training', updated_at = $1 WHERE id = $2`, now, versionID); err != nil {
			return fmt.Errorf("start version: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'started', started_at = $1 WHERE id = $2`, now, jobID); err != nil {
			return fmt.Errorf("start job: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) FinishTrain(ctx context.Context, versionID, jobID uuid.UUID, artifactPrefix string) error {
	now := time.Now()
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE model_versions SET status = 'completed', artifact_prefix = $1, updated_at = $2 WHERE id = $3`,
			artifactPrefix, now, versionID); err != nil {
			return fmt.Errorf("finish version: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'finished', finished_at = $1 WHERE id = $2`, now, jobID); err != nil {
			return fmt.Errorf("finish job: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) FailTrain(ctx context.Context, versionID, jobID uuid.UUID, errMsg string) error {
	now := time.Now()
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE model_versions SET status = 'failed', error_message = $1, updated_at = $2 WHERE id = $3`,
			errMsg, now, versionID); err != nil {
			return fmt.Errorf("fail version: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'failed', error_message = $1, finished_at = $2 WHERE id = $3`,
			errMsg, now, jobID); err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) StartGenerate(ctx context.Context, generationID, jobID uuid.UUID) error {
	now := time.Now()
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE generations SET status = 'generating', updated_at = $1 WHERE id = $2`, now, generationID); err != nil {
			return fmt.Errorf("start generation: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'started', started_at = $1 WHERE id = $2`, now, jobID); err != nil {
			return fmt.Errorf("start job: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) FinishGenerate(ctx context.Context, generationID, jobID uuid.UUID, outputKey, thumbnailKey string) error {
	now := time.Now()
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE generations SET status = 'completed', output_key = $1, thumbnail_key = $2, updated_at = $3 WHERE id = $4`,
			outputKey, thumbnailKey, now, generationID); err != nil {
			return fmt.Errorf("finish generation: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'finished', finished_at = $1 WHERE id = $2`, now, jobID); err != nil {
			return fmt.Errorf("finish job: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) FailGenerate(ctx context.Context, generationID, jobID uuid.UUID, errMsg string) error {
	now := time.Now()
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE generations SET status = 'failed', error_message = $1, updated_at = $2 WHERE id = $3`,
			errMsg, now, generationID); err != nil {
			return fmt.Errorf("fail generation: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'failed', error_message = $1, finished_at = $2 WHERE id = $3`,
			errMsg, now, jobID); err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
		return nil
	})
}
