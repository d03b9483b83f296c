package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PhotosProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lorapix",
		Name:      "photos_processed_total",
		Help:      "Total number of photos handled by preprocessing, by outcome",
	}, []string{"result"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lorapix",
		Name:      "jobs_processed_total",
		Help:      "Total number of jobs executed, by type and terminal status",
	}, []string{"type", "status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lorapix",
		Name:      "stage_duration_seconds",
		Help:      "Duration of stage executions",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"type"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lorapix",
		Name:      "queue_depth",
		Help:      "Number of pending job tasks in queue",
	})

	JobEventsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lorapix",
		Name:      "job_events_persisted_total",
		Help:      "Total number of job events written",
	}, []string{"event_type"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lorapix",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lorapix",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
