package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/lorapix/internal/api/handlers"
	"github.com/your-org/lorapix/internal/api/ws"
	"github.com/your-org/lorapix/internal/auth"
	"github.com/your-org/lorapix/internal/config"
	"github.com/your-org/lorapix/internal/pipeline"
	"github.com/your-org/lorapix/internal/queue"
	"github.com/your-org/lorapix/internal/storage"
)

type RouterConfig struct {
	APIKey       string
	DB           *storage.PostgresStore
	MinIO        *storage.MinIOStore
	Producer     *queue.Producer
	Hub          *ws.Hub
	Orchestrator *pipeline.Orchestrator
	Pipeline     config.PipelineConfig
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket (live job events, optional ?job_id= filter)
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Persons, photos & preprocessing
	personH := handlers.NewPersonHandler(cfg.DB, cfg.MinIO, cfg.Orchestrator, cfg.Pipeline)
	v1.POST("/persons", personH.Create)
	v1.GET("/persons", personH.List)
	v1.GET("/persons/:id", personH.Get)
	v1.DELETE("/persons/:id", personH.Delete)
	v1.POST("/persons/:id/photos/presign", personH.PresignUpload)
	v1.POST("/persons/:id/photos/complete", personH.CompleteUpload)
	v1.GET("/persons/:id/photos", personH.ListPhotos)
	v1.GET("/persons/:id/photos/:photoId/url", personH.PhotoURL)
	v1.POST("/persons/:id/preprocess", personH.StartPreprocess)
	v1.GET("/persons/:id/runs", personH.ListRuns)

	// Models & versions
	modelH := handlers.NewModelHandler(cfg.DB, cfg.Orchestrator)
	v1.POST("/models/train", modelH.Train)
	v1.GET("/models", modelH.List)
	v1.GET("/models/:id", modelH.Get)
	v1.GET("/models/:id/versions", modelH.ListVersions)
	v1.GET("/versions/:versionId", modelH.GetVersion)

	// Generations
	genH := handlers.NewGenerationHandler(cfg.DB, cfg.MinIO, cfg.Orchestrator, cfg.Pipeline)
	v1.POST("/generations", genH.Create)
	v1.GET("/generations", genH.List)
	v1.GET("/generations/:id", genH.Get)
	v1.GET("/generations/:id/url", genH.URL)

	// Jobs
	jobH := handlers.NewJobHandler(cfg.DB)
	v1.GET("/jobs/:id", jobH.Get)
	v1.GET("/jobs/:id/events", jobH.ListEvents)

	return r
}
