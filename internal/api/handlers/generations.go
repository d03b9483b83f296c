package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/lorapix/internal/config"
	"github.com/your-org/lorapix/internal/models"
	"github.com/your-org/lorapix/internal/pipeline"
	"github.com/your-org/lorapix/internal/storage"
	"github.com/your-org/lorapix/pkg/dto"
)

type GenerationHandler struct {
	db    *storage.PostgresStore
	minio *storage.MinIOStore
	orch  *pipeline.Orchestrator
	cfg   config.PipelineConfig
}

func NewGenerationHandler(db *storage.PostgresStore, minio *storage.MinIOStore, orch *pipeline.Orchestrator, cfg config.PipelineConfig) *GenerationHandler {
	return &GenerationHandler{db: db, minio: minio, orch: orch, cfg: cfg}
}

// Create schedules image synthesis against a completed model version.
func (h *GenerationHandler) Create(c *gin.Context) {
	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	gen, job, err := h.orch.StartGenerate(c.Request.Context(), pipeline.GenerateRequest{
		ModelVersionID: req.ModelVersionID,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Steps:          req.Steps,
		Width:          req.Width,
		Height:         req.Height,
		Seed:           req.Seed,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"generation": generationResponse(gen, &job.ID),
		"job":        jobResponse(job),
	})
}

func (h *GenerationHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "generation id")
	if !ok {
		return
	}

	gen, err := h.db.GetGeneration(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if gen == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "generation not found"})
		return
	}

	var jobID *uuid.UUID
	if job, err := h.db.GetJobByStage(c.Request.Context(), models.GenerateRef(gen.ID)); err == nil && job != nil {
		jobID = &job.ID
	}
	c.JSON(http.StatusOK, generationResponse(gen, jobID))
}

func (h *GenerationHandler) List(c *gin.Context) {
	versionID, err := uuid.Parse(c.Query("model_version_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model_version_id query parameter required"})
		return
	}

	gens, err := h.db.ListGenerations(c.Request.Context(), versionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.GenerationResponse, 0, len(gens))
	for i := range gens {
		resp = append(resp, generationResponse(&gens[i], nil))
	}
	c.JSON(http.StatusOK, gin.H{"generations": resp, "total": len(resp)})
}

// URL returns short-lived download URLs for a completed generation.
func (h *GenerationHandler) URL(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "generation id")
	if !ok {
		return
	}

	gen, err := h.db.GetGeneration(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if gen == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "generation not found"})
		return
	}
	if gen.OutputKey == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "generation has no output yet (status: " + string(gen.Status) + ")"})
		return
	}

	url, err := h.minio.PresignGet(c.Request.Context(), gen.OutputKey, h.cfg.PresignExpiry)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.GenerationURLResponse{
		URL:       url,
		ExpiresIn: int(h.cfg.PresignExpiry.Seconds()),
	}
	if gen.ThumbnailKey != "" {
		if thumbURL, err := h.minio.PresignGet(c.Request.Context(), gen.ThumbnailKey, h.cfg.PresignExpiry); err == nil {
			resp.ThumbnailURL = thumbURL
		}
	}
	c.JSON(http.StatusOK, resp)
}

func generationResponse(g *models.Generation, jobID *uuid.UUID) dto.GenerationResponse {
	return dto.GenerationResponse{
		ID:             g.ID,
		ModelVersionID: g.ModelVersionID,
		Prompt:         g.Prompt,
		NegativePrompt: g.NegativePrompt,
		Steps:          g.Steps,
		Width:          g.Width,
		Height:         g.Height,
		Seed:           g.Seed,
		Status:         string(g.Status),
		OutputKey:      g.OutputKey,
		ThumbnailKey:   g.ThumbnailKey,
		ErrorMessage:   g.ErrorMessage,
		JobID:          jobID,
		CreatedAt:      fmtTime(g.CreatedAt),
	}
}
