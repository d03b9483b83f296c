package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/lorapix/internal/models"
	"github.com/your-org/lorapix/internal/pipeline"
	"github.com/your-org/lorapix/pkg/dto"
)

const timeLayout = "2006-01-02T15:04:05Z"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return fmtTime(*t)
}

// respondError maps pipeline errors onto HTTP statuses: precondition
// rejections are client errors, everything else is a 500.
func respondError(c *gin.Context, err error) {
	var pre *pipeline.PreconditionError
	if errors.As(err, &pre) {
		status := http.StatusConflict
		if strings.Contains(pre.Reason, "not found") {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": pre.Reason})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func parseIDParam(c *gin.Context, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + label})
		return uuid.Nil, false
	}
	return id, true
}

// sanitizeFilename keeps the storage key flat: path separators and
// whitespace collapse to underscores.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_")
	name = replacer.Replace(name)
	if name == "" {
		name = "photo"
	}
	return name
}

func photoResponse(p *models.PhotoAsset) dto.PhotoResponse {
	return dto.PhotoResponse{
		ID:          p.ID,
		PersonID:    p.PersonID,
		StorageKey:  p.StorageKey,
		ContentType: p.ContentType,
		SizeBytes:   p.SizeBytes,
		Status:      string(p.Status),
		IsDuplicate: p.IsDuplicate,
		CreatedAt:   fmtTime(p.CreatedAt),
	}
}

func runResponse(r *models.PreprocessRun, jobID *uuid.UUID) dto.RunResponse {
	return dto.RunResponse{
		ID:               r.ID,
		PersonID:         r.PersonID,
		Status:           string(r.Status),
		ImagesAccepted:   r.ImagesAccepted,
		ImagesRejected:   r.ImagesRejected,
		ImagesDuplicates: r.ImagesDuplicates,
		OutputPrefix:     r.OutputPrefix,
		ErrorMessage:     r.ErrorMessage,
		JobID:            jobID,
		CreatedAt:        fmtTime(r.CreatedAt),
	}
}

func jobResponse(job *models.Job) dto.JobResponse {
	return dto.JobResponse{
		ID:           job.ID,
		StageType:    string(job.Stage.Type),
		StageID:      job.Stage.ID,
		Status:       string(job.Status),
		TaskID:       job.TaskID,
		ErrorMessage: job.ErrorMessage,
		StartedAt:    fmtTimePtr(job.StartedAt),
		FinishedAt:   fmtTimePtr(job.FinishedAt),
		CreatedAt:    fmtTime(job.CreatedAt),
	}
}
