package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/lorapix/internal/storage"
	"github.com/your-org/lorapix/pkg/dto"
)

type JobHandler struct {
	db *storage.PostgresStore
}

func NewJobHandler(db *storage.PostgresStore) *JobHandler {
	return &JobHandler{db: db}
}

func (h *JobHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "job id")
	if !ok {
		return
	}

	job, err := h.db.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, jobResponse(job))
}

// ListEvents returns a job's most recent events, newest first.
func (h *JobHandler) ListEvents(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "job id")
	if !ok {
		return
	}

	limit := 0
	if limStr := c.Query("limit"); limStr != "" {
		n, err := strconv.Atoi(limStr)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	events, err := h.db.ListJobEvents(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.JobEventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, dto.JobEventResponse{
			ID:        ev.ID,
			JobID:     ev.JobID,
			EventType: string(ev.EventType),
			Message:   ev.Message,
			Metadata:  ev.Metadata,
			CreatedAt: fmtTime(ev.CreatedAt),
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": resp, "total": len(resp)})
}
