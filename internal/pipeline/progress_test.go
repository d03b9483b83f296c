package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/lorapix/internal/models"
)

func TestReporterThrottlesByStride(t *testing.T) {
	store := newMemStore()
	jobID := uuid.New()
	r := NewReporter(store, nil, jobID, 10)
	ctx := context.Background()

	for step := 1; step <= 200; step++ {
		r.Step(ctx, step, 200, -1)
	}
	r.Finish(ctx)

	events := store.eventsOfType(jobID, models.JobEventProgress)
	if len(events) != 20 {
		t.Fatalf("got %d progress events, want 20", len(events))
	}

	var meta progressMeta
	if err := json.Unmarshal(events[len(events)-1].Metadata, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta.Current != 200 || meta.Total != 200 {
		t.Fatalf("last event at %d/%d, want 200/200", meta.Current, meta.Total)
	}
	if meta.Percent != 100 {
		t.Fatalf("last event percent = %v, want 100", meta.Percent)
	}
}

func TestReporterAlwaysRecordsFinalStep(t *testing.T) {
	store := newMemStore()
	jobID := uuid.New()
	r := NewReporter(store, nil, jobID, 10)
	ctx := context.Background()

	// The collaborator stops mid-run at a step the stride would skip.
	for step := 1; step <= 17; step++ {
		r.Step(ctx, step, 40, -1)
	}
	r.Finish(ctx)

	events := store.eventsOfType(jobID, models.JobEventProgress)
	if len(events) != 2 {
		t.Fatalf("got %d progress events, want 2 (step 10 and final 17)", len(events))
	}
	var meta progressMeta
	if err := json.Unmarshal(events[1].Metadata, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta.Current != 17 {
		t.Fatalf("final event at step %d, want 17", meta.Current)
	}
}

func TestReporterFinishWithoutStepsIsSilent(t *testing.T) {
	store := newMemStore()
	jobID := uuid.New()
	r := NewReporter(store, nil, jobID, 10)
	r.Finish(context.Background())
	if events := store.eventsOfType(jobID, models.JobEventProgress); len(events) != 0 {
		t.Fatalf("got %d events, want 0", len(events))
	}
}

func TestReporterComputesETA(t *testing.T) {
	store := newMemStore()
	jobID := uuid.New()
	r := NewReporter(store, nil, jobID, 1)

	base := r.start
	r.now = func() time.Time { return base.Add(10 * time.Second) }
	r.Step(context.Background(), 50, 100, 0.25)

	events := store.eventsOfType(jobID, models.JobEventProgress)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	var meta progressMeta
	if err := json.Unmarshal(events[0].Metadata, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta.ElapsedSeconds != 10 {
		t.Fatalf("elapsed = %v, want 10", meta.ElapsedSeconds)
	}
	if meta.ETASeconds == nil || *meta.ETASeconds != 10 {
		t.Fatalf("eta = %v, want 10", meta.ETASeconds)
	}
	if meta.Metric == nil || *meta.Metric != 0.25 {
		t.Fatalf("metric = %v, want 0.25", meta.Metric)
	}
}

func TestReporterOmitsETAAndMetricWhenUnknown(t *testing.T) {
	store := newMemStore()
	jobID := uuid.New()
	r := NewReporter(store, nil, jobID, 1)
	r.Step(context.Background(), 100, 100, -1)

	events := store.eventsOfType(jobID, models.JobEventProgress)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	var meta progressMeta
	if err := json.Unmarshal(events[0].Metadata, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta.ETASeconds != nil {
		t.Fatalf("eta = %v, want omitted at final step", *meta.ETASeconds)
	}
	if meta.Metric != nil {
		t.Fatalf("metric = %v, want omitted", *meta.Metric)
	}
}

func TestReporterPublishesPersistedEvents(t *testing.T) {
	store := newMemStore()
	q := &fakeQueue{}
	jobID := uuid.New()
	r := NewReporter(store, q, jobID, 5)
	ctx := context.Background()

	for step := 1; step <= 10; step++ {
		r.Step(ctx, step, 10, -1)
	}

	if len(q.events) != 2 {
		t.Fatalf("published %d events, want 2", len(q.events))
	}
	for _, ev := range q.events {
		if ev.JobID != jobID || ev.EventType != models.JobEventProgress {
			t.Fatalf("unexpected published event: %+v", ev)
		}
	}
}
