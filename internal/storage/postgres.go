package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/lorapix/internal/config"
	"github.com/your-org/lorapix/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Persons ---

func (s *PostgresStore) CreatePerson(ctx context.Context, name string, consentConfirmed, subjectIsAdult bool) (*models.PersonProfile, error) {
	p := &models.PersonProfile{
		ID:               uuid.New(),
		Name:             name,
		ConsentConfirmed: consentConfirmed,
		SubjectIsAdult:   subjectIsAdult,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO person_profiles (id, name, consent_confirmed, subject_is_adult) VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at`,
		p.ID, p.Name, p.ConsentConfirmed, p.SubjectIsAdult,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create person: %w", err)
	}
	return p, nil
}

// GetPerson returns a live (not soft-deleted) person, or nil if none.
func (s *PostgresStore) GetPerson(ctx context.Context, id uuid.UUID) (*models.PersonProfile, error) {
	p := &models.PersonProfile{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, consent_confirmed, subject_is_adult, deleted_at, created_at, updated_at
		 FROM person_profiles WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&p.ID, &p.Name, &p.ConsentConfirmed, &p.SubjectIsAdult, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPersons(ctx context.Context) ([]models.PersonProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, consent_confirmed, subject_is_adult, deleted_at, created_at, updated_at
		 FROM person_profiles WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var persons []models.PersonProfile
	for rows.Next() {
		var p models.PersonProfile
		if err := rows.Scan(&p.ID, &p.Name, &p.ConsentConfirmed, &p.SubjectIsAdult, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, p)
	}
	return persons, nil
}

// SoftDeletePerson marks the person deleted; descendant rows stay.
func (s *PostgresStore) SoftDeletePerson(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE person_profiles SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		time.Now(), id)
	if err != nil {
		return fmt.Errorf("soft delete person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("person not found")
	}
	return nil
}

// --- Photos ---

func (s *PostgresStore) CreatePhoto(ctx context.Context, personID uuid.UUID, storageKey, contentType string, sizeBytes int64) (*models.PhotoAsset, error) {
	ph := &models.PhotoAsset{
		ID:          uuid.New(),
		PersonID:    personID,
		StorageKey:  storageKey,
		ContentType: contentType,
		SizeBytes:   sizeBytes,
		Status:      models.PhotoStatusUploaded,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO photo_assets (id, person_id, storage_key, content_type, size_bytes, status)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		ph.ID, ph.PersonID, ph.StorageKey, ph.ContentType, ph.SizeBytes, ph.Status,
	).Scan(&ph.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create photo: %w", err)
	}
	return ph, nil
}

func (s *PostgresStore) GetPhoto(ctx context.Context, personID, photoID uuid.UUID) (*models.PhotoAsset, error) {
	ph := &models.PhotoAsset{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, person_id, storage_key, content_type, size_bytes, status, COALESCE(phash, ''), is_duplicate, created_at
		 FROM photo_assets WHERE id = $1 AND person_id = $2`, photoID, personID,
	).Scan(&ph.ID, &ph.PersonID, &ph.StorageKey, &ph.ContentType, &ph.SizeBytes, &ph.Status, &ph.PHash, &ph.IsDuplicate, &ph.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return ph, nil
}

func (s *PostgresStore) ListPhotos(ctx context.Context, personID uuid.UUID) ([]models.PhotoAsset, error) {
	return s.listPhotos(ctx,
		`SELECT id, person_id, storage_key, content_type, size_bytes, status, COALESCE(phash, ''), is_duplicate, created_at
		 FROM photo_assets WHERE person_id = $1 ORDER BY created_at DESC`, personID)
}

// ListUploadedPhotos returns photos awaiting preprocessing in upload order.
// The order matters: deduplication tie-breaking depends on it.
func (s *PostgresStore) ListUploadedPhotos(ctx context.Context, personID uuid.UUID) ([]models.PhotoAsset, error) {
	return s.listPhotos(ctx,
		`SELECT id, person_id, storage_key, content_type, size_bytes, status, COALESCE(phash, ''), is_duplicate, created_at
		 FROM photo_assets WHERE person_id = $1 AND status = 'uploaded' ORDER BY created_at ASC, id ASC`, personID)
}

func (s *PostgresStore) listPhotos(ctx context.Context, query string, args ...interface{}) ([]models.PhotoAsset, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	var photos []models.PhotoAsset
	for rows.Next() {
		var ph models.PhotoAsset
		if err := rows.Scan(&ph.ID, &ph.PersonID, &ph.StorageKey, &ph.ContentType, &ph.SizeBytes, &ph.Status, &ph.PHash, &ph.IsDuplicate, &ph.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, ph)
	}
	return photos, nil
}

// CountUploadedPhotos counts photos still in the uploaded state.
func (s *PostgresStore) CountUploadedPhotos(ctx context.Context, personID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM photo_assets WHERE person_id = $1 AND status = 'uploaded'`, personID,
	).Scan(&count)
	return count, err
}

// CountActivePhotos counts photos that are not rejected (used for the upload cap).
func (s *PostgresStore) CountActivePhotos(ctx context.Context, personID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM photo_assets WHERE person_id = $1 AND status <> 'rejected'`, personID,
	).Scan(&count)
	return count, err
}

// SetPhotoOutcome records the terminal result of one photo for a run.
// The fingerprint, once assigned, is never overwritten by a later run.
func (s *PostgresStore) SetPhotoOutcome(ctx context.Context, photoID uuid.UUID, status models.PhotoStatus, phash string, isDuplicate bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE photo_assets SET status = $1, phash = COALESCE(phash, NULLIF($2, '')), is_duplicate = $3 WHERE id = $4`,
		status, phash, isDuplicate, photoID)
	if err != nil {
		return fmt.Errorf("set photo outcome: %w", err)
	}
	return nil
}

// --- Preprocess runs ---

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.PreprocessRun, error) {
	r := &models.PreprocessRun{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, person_id, status, images_accepted, images_rejected, images_duplicates,
		        COALESCE(output_prefix, ''), COALESCE(error_message, ''), started_at, finished_at, created_at
		 FROM preprocess_runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.PersonID, &r.Status, &r.ImagesAccepted, &r.ImagesRejected, &r.ImagesDuplicates,
		&r.OutputPrefix, &r.ErrorMessage, &r.StartedAt, &r.FinishedAt, &r.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// LatestFinishedRun returns the most recent finished run for a person,
// which is the authoritative dataset for training. Nil if none exists.
func (s *PostgresStore) LatestFinishedRun(ctx context.Context, personID uuid.UUID) (*models.PreprocessRun, error) {
	r := &models.PreprocessRun{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, person_id, status, images_accepted, images_rejected, images_duplicates,
		        COALESCE(output_prefix, ''), COALESCE(error_message, ''), started_at, finished_at, created_at
		 FROM preprocess_runs WHERE person_id = $1 AND status = 'finished'
		 ORDER BY created_at DESC LIMIT 1`, personID,
	).Scan(&r.ID, &r.PersonID, &r.Status, &r.ImagesAccepted, &r.ImagesRejected, &r.ImagesDuplicates,
		&r.OutputPrefix, &r.ErrorMessage, &r.StartedAt, &r.FinishedAt, &r.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("latest finished run: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, personID uuid.UUID) ([]models.PreprocessRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, person_id, status, images_accepted, images_rejected, images_duplicates,
		        COALESCE(output_prefix, ''), COALESCE(error_message, ''), started_at, finished_at, created_at
		 FROM preprocess_runs WHERE person_id = $1 ORDER BY created_at DESC`, personID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.PreprocessRun
	for rows.Next() {
		var r models.PreprocessRun
		if err := rows.Scan(&r.ID, &r.PersonID, &r.Status, &r.ImagesAccepted, &r.ImagesRejected, &r.ImagesDuplicates,
			&r.OutputPrefix, &r.ErrorMessage, &r.StartedAt, &r.FinishedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, nil
}
