package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/lorapix/internal/models"
	"github.com/your-org/lorapix/internal/pipeline"
	"github.com/your-org/lorapix/internal/storage"
	"github.com/your-org/lorapix/pkg/dto"
)

type ModelHandler struct {
	db   *storage.PostgresStore
	orch *pipeline.Orchestrator
}

func NewModelHandler(db *storage.PostgresStore, orch *pipeline.Orchestrator) *ModelHandler {
	return &ModelHandler{db: db, orch: orch}
}

// Train schedules training of a new model version.
func (h *ModelHandler) Train(c *gin.Context) {
	var req dto.TrainModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	model, version, job, err := h.orch.StartTrain(c.Request.Context(), pipeline.TrainRequest{
		PersonID:      req.PersonID,
		ModelID:       req.ModelID,
		ModelName:     req.ModelName,
		BaseModelName: req.BaseModelName,
		TriggerToken:  req.TriggerToken,
		TrainConfig:   req.TrainConfig,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"model":   modelResponse(model),
		"version": versionResponse(version, &job.ID),
		"job":     jobResponse(job),
	})
}

func (h *ModelHandler) List(c *gin.Context) {
	var personID *uuid.UUID
	if pidStr := c.Query("person_id"); pidStr != "" {
		id, err := uuid.Parse(pidStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person_id"})
			return
		}
		personID = &id
	}

	list, err := h.db.ListModels(c.Request.Context(), personID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.ModelResponse, 0, len(list))
	for i := range list {
		resp = append(resp, modelResponse(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"models": resp, "total": len(resp)})
}

func (h *ModelHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "model id")
	if !ok {
		return
	}

	model, err := h.db.GetModel(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if model == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "model not found"})
		return
	}
	c.JSON(http.StatusOK, modelResponse(model))
}

func (h *ModelHandler) ListVersions(c *gin.Context) {
	modelID, ok := parseIDParam(c, "id", "model id")
	if !ok {
		return
	}

	versions, err := h.db.ListModelVersions(c.Request.Context(), modelID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.ModelVersionResponse, 0, len(versions))
	for i := range versions {
		resp = append(resp, versionResponse(&versions[i], nil))
	}
	c.JSON(http.StatusOK, gin.H{"versions": resp, "total": len(resp)})
}

func (h *ModelHandler) GetVersion(c *gin.Context) {
	versionID, ok := parseIDParam(c, "versionId", "version id")
	if !ok {
		return
	}

	version, err := h.db.GetModelVersion(c.Request.Context(), versionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if version == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "model version not found"})
		return
	}

	var jobID *uuid.UUID
	if job, err := h.db.GetJobByStage(c.Request.Context(), models.TrainRef(version.ID)); err == nil && job != nil {
		jobID = &job.ID
	}
	c.JSON(http.StatusOK, versionResponse(version, jobID))
}

func modelResponse(m *models.Model) dto.ModelResponse {
	return dto.ModelResponse{
		ID:        m.ID,
		PersonID:  m.PersonID,
		Name:      m.Name,
		CreatedAt: fmtTime(m.CreatedAt),
	}
}

func versionResponse(v *models.ModelVersion, jobID *uuid.UUID) dto.ModelVersionResponse {
	return dto.ModelVersionResponse{
		ID:             v.ID,
		ModelID:        v.ModelID,
		VersionNumber:  v.VersionNumber,
		BaseModelName:  v.BaseModelName,
		TriggerToken:   v.TriggerToken,
		TrainConfig:    v.TrainConfig,
		ArtifactPrefix: v.ArtifactPrefix,
		Status:         string(v.Status),
		ErrorMessage:   v.ErrorMessage,
		JobID:          jobID,
		CreatedAt:      fmtTime(v.CreatedAt),
	}
}
