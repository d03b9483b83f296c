package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/lorapix/internal/models"
	"github.com/your-org/lorapix/internal/observability"
)

// Reporter turns raw step callbacks into persisted progress events. It
// throttles persistence to every stride-th step so a long run does not
// write thousands of rows, while guaranteeing the final step is always
// recorded. Callbacks may arrive from the collaborator's goroutine, so
// state is mutex-guarded.
type Reporter struct {
	store  Store
	events EventPublisher // may be nil
	jobID  uuid.UUID
	stride int
	now    func() time.Time

	mu            sync.Mutex
	start         time.Time
	lastCurrent   int
	lastTotal     int
	lastMetric    float64
	lastPersisted int
}

func NewReporter(store Store, events EventPublisher, jobID uuid.UUID, stride int) *Reporter {
	if stride < 1 {
		stride = 1
	}
	r := &Reporter{
		store:  store,
		events: events,
		jobID:  jobID,
		stride: stride,
		now:    time.Now,
	}
	r.start = r.now()
	return r
}

type progressMeta struct {
	Current        int      `json:"current"`
	Total          int      `json:"total"`
	Percent        float64  `json:"percent"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
	ETASeconds     *float64 `json:"eta_seconds,omitempty"`
	Metric         *float64 `json:"metric,omitempty"`
}

// Step records one callback. Persistence happens on every stride-th
// step and on the final step; everything else only updates in-memory
// state. A negative metric means "no metric reported".
func (r *Reporter) Step(ctx context.Context, current, total int, metric float64) {
	r.mu.Lock()
	r.lastCurrent = current
	r.lastTotal = total
	r.lastMetric = metric
	persist := current%r.stride == 0 || current == total
	if persist {
		r.lastPersisted = current
	}
	r.mu.Unlock()

	if persist {
		r.persist(ctx, current, total, metric)
	}
}

// Finish persists the last observed step if throttling skipped it, so
// the event log always ends at the true final position.
func (r *Reporter) Finish(ctx context.Context) {
	r.mu.Lock()
	current, total, metric := r.lastCurrent, r.lastTotal, r.lastMetric
	skipped := current > 0 && current != r.lastPersisted
	if skipped {
		r.lastPersisted = current
	}
	r.mu.Unlock()

	if skipped {
		r.persist(ctx, current, total, metric)
	}
}

// Callback adapts the reporter to the collaborator callback shape.
func (r *Reporter) Callback(ctx context.Context) ProgressFunc {
	return func(current, total int, metric float64) {
		r.Step(ctx, current, total, metric)
	}
}

func (r *Reporter) persist(ctx context.Context, current, total int, metric float64) {
	elapsed := r.now().Sub(r.start).Seconds()
	meta := progressMeta{
		Current:        current,
		Total:          total,
		ElapsedSeconds: elapsed,
	}
	if total > 0 {
		meta.Percent = float64(current) / float64(total) * 100
	}
	if current > 0 && total > current {
		eta := elapsed / float64(current) * float64(total-current)
		meta.ETASeconds = &eta
	}
	if metric >= 0 {
		m := metric
		meta.Metric = &m
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		slog.Error("marshal progress metadata", "job_id", r.jobID, "error", err)
		return
	}

	msg := progressMessage(current, total)
	ev, err := r.store.AppendJobEvent(ctx, r.jobID, models.JobEventProgress, msg, raw)
	if err != nil {
		// Progress is advisory; losing an event never fails the stage.
		slog.Warn("persist progress event", "job_id", r.jobID, "error", err)
		return
	}
	observability.JobEventsPersisted.WithLabelValues(string(models.JobEventProgress)).Inc()

	if r.events != nil {
		if err := r.events.PublishJobEvent(ctx, ev); err != nil {
			slog.Warn("publish progress event", "job_id", r.jobID, "error", err)
		}
	}
}

func progressMessage(current, total int) string {
	return fmt.Sprintf("step %d/%d", current, total)
}
