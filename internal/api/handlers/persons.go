package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/lorapix/internal/config"
	"github.com/your-org/lorapix/internal/pipeline"
	"github.com/your-org/lorapix/internal/safety"
	"github.com/your-org/lorapix/internal/storage"
	"github.com/your-org/lorapix/pkg/dto"
)

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

type PersonHandler struct {
	db    *storage.PostgresStore
	minio *storage.MinIOStore
	orch  *pipeline.Orchestrator
	cfg   config.PipelineConfig
}

func NewPersonHandler(db *storage.PostgresStore, minio *storage.MinIOStore, orch *pipeline.Orchestrator, cfg config.PipelineConfig) *PersonHandler {
	return &PersonHandler{db: db, minio: minio, orch: orch, cfg: cfg}
}

func (h *PersonHandler) Create(c *gin.Context) {
	var req dto.CreatePersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := safety.ValidateConsent(req.ConsentConfirmed, req.SubjectIsAdult); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	person, err := h.db.CreatePerson(c.Request.Context(), req.Name, req.ConsentConfirmed, req.SubjectIsAdult)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.PersonResponse{
		ID:               person.ID,
		Name:             person.Name,
		ConsentConfirmed: person.ConsentConfirmed,
		SubjectIsAdult:   person.SubjectIsAdult,
		CreatedAt:        fmtTime(person.CreatedAt),
	})
}

func (h *PersonHandler) List(c *gin.Context) {
	persons, err := h.db.ListPersons(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.PersonResponse, 0, len(persons))
	for _, p := range persons {
		count, _ := h.db.CountActivePhotos(c.Request.Context(), p.ID)
		resp = append(resp, dto.PersonResponse{
			ID:               p.ID,
			Name:             p.Name,
			ConsentConfirmed: p.ConsentConfirmed,
			SubjectIsAdult:   p.SubjectIsAdult,
			PhotoCount:       count,
			CreatedAt:        fmtTime(p.CreatedAt),
		})
	}

	c.JSON(http.StatusOK, gin.H{"persons": resp, "total": len(resp)})
}

func (h *PersonHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "person id")
	if !ok {
		return
	}

	person, err := h.db.GetPerson(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if person == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		return
	}

	count, _ := h.db.CountActivePhotos(c.Request.Context(), id)
	c.JSON(http.StatusOK, dto.PersonResponse{
		ID:               person.ID,
		Name:             person.Name,
		ConsentConfirmed: person.ConsentConfirmed,
		SubjectIsAdult:   person.SubjectIsAdult,
		PhotoCount:       count,
		CreatedAt:        fmtTime(person.CreatedAt),
	})
}

// Delete soft-deletes the profile and wipes the person's stored blobs.
// Per-item cleanup outcomes are returned so a client can see what, if
// anything, needs manual attention.
func (h *PersonHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "person id")
	if !ok {
		return
	}

	results, err := h.orch.DeletePerson(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	cleanup := make([]dto.CleanupItemResult, 0, len(results))
	for _, r := range results {
		item := dto.CleanupItemResult{Key: r.Item.Key, Deleted: r.Err == nil}
		if r.Err != nil {
			item.Error = r.Err.Error()
		}
		cleanup = append(cleanup, item)
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted", "cleanup": cleanup})
}

func (h *PersonHandler) validateUpload(c *gin.Context, personID uuid.UUID, contentType string, sizeBytes int64) bool {
	if !allowedContentTypes[contentType] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content type must be image/jpeg, image/png or image/webp"})
		return false
	}
	maxBytes := int64(h.cfg.MaxPhotoSizeMB) * 1024 * 1024
	if sizeBytes <= 0 || sizeBytes > maxBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("photo size must be positive and at most %dMB", h.cfg.MaxPhotoSizeMB)})
		return false
	}

	count, err := h.db.CountActivePhotos(c.Request.Context(), personID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return false
	}
	if count >= h.cfg.MaxPhotos {
		c.JSON(http.StatusConflict, gin.H{"error": "photo limit reached"})
		return false
	}
	return true
}

// PresignUpload hands the client a short-lived PUT URL. No photo row is
// created until the client confirms the upload.
func (h *PersonHandler) PresignUpload(c *gin.Context) {
	personID, ok := parseIDParam(c, "id", "person id")
	if !ok {
		return
	}

	person, err := h.db.GetPerson(c.Request.Context(), personID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if person == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		return
	}

	var req dto.PresignUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.validateUpload(c, personID, req.ContentType, req.SizeBytes) {
		return
	}

	key := pipeline.UploadKey(personID, uuid.New().String()+"_"+sanitizeFilename(req.Filename))
	url, err := h.minio.PresignPut(c.Request.Context(), key, h.cfg.PresignExpiry)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.PresignUploadResponse{
		UploadURL:  url,
		StorageKey: key,
		ExpiresIn:  int(h.cfg.PresignExpiry.Seconds()),
	})
}

// CompleteUpload registers the photo after the client PUT the bytes.
func (h *PersonHandler) CompleteUpload(c *gin.Context) {
	personID, ok := parseIDParam(c, "id", "person id")
	if !ok {
		return
	}

	person, err := h.db.GetPerson(c.Request.Context(), personID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if person == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		return
	}

	var req dto.CompleteUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !strings.HasPrefix(req.StorageKey, "uploads/"+personID.String()+"/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "storage key does not belong to this person"})
		return
	}
	if !h.validateUpload(c, personID, req.ContentType, req.SizeBytes) {
		return
	}

	photo, err := h.db.CreatePhoto(c.Request.Context(), personID, req.StorageKey, req.ContentType, req.SizeBytes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, photoResponse(photo))
}

func (h *PersonHandler) ListPhotos(c *gin.Context) {
	personID, ok := parseIDParam(c, "id", "person id")
	if !ok {
		return
	}

	photos, err := h.db.ListPhotos(c.Request.Context(), personID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.PhotoResponse, 0, len(photos))
	for i := range photos {
		resp = append(resp, photoResponse(&photos[i]))
	}
	c.JSON(http.StatusOK, gin.H{"photos": resp, "total": len(resp)})
}

// PhotoURL returns a short-lived download URL for the original upload.
func (h *PersonHandler) PhotoURL(c *gin.Context) {
	personID, ok := parseIDParam(c, "id", "person id")
	if !ok {
		return
	}
	photoID, ok := parseIDParam(c, "photoId", "photo id")
	if !ok {
		return
	}

	photo, err := h.db.GetPhoto(c.Request.Context(), personID, photoID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if photo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return
	}

	url, err := h.minio.PresignGet(c.Request.Context(), photo.StorageKey, h.cfg.PresignExpiry)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.PhotoURLResponse{
		URL:       url,
		ExpiresIn: int(h.cfg.PresignExpiry.Seconds()),
	})
}

// StartPreprocess schedules a dataset build for the person.
func (h *PersonHandler) StartPreprocess(c *gin.Context) {
	personID, ok := parseIDParam(c, "id", "person id")
	if !ok {
		return
	}

	run, job, err := h.orch.StartPreprocess(c.Request.Context(), personID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run": runResponse(run, &job.ID),
		"job": jobResponse(job),
	})
}

func (h *PersonHandler) ListRuns(c *gin.Context) {
	personID, ok := parseIDParam(c, "id", "person id")
	if !ok {
		return
	}

	runs, err := h.db.ListRuns(c.Request.Context(), personID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.RunResponse, 0, len(runs))
	for i := range runs {
		resp = append(resp, runResponse(&runs[i], nil))
	}
	c.JSON(http.StatusOK, gin.H{"runs": resp, "total": len(resp)})
}
