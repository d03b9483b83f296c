package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/lorapix/internal/config"
	"github.com/your-org/lorapix/internal/engine"
	"github.com/your-org/lorapix/internal/models"
	"github.com/your-org/lorapix/internal/observability"
	"github.com/your-org/lorapix/internal/pipeline"
	"github.com/your-org/lorapix/internal/queue"
	"github.com/your-org/lorapix/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting lorapix pipeline worker",
		"workers", cfg.Pipeline.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
	)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// External train/generate processes
	runner, err := engine.New(cfg.Engine)
	if err != nil {
		slog.Error("init engine", "error", err)
		os.Exit(1)
	}

	normalizer := pipeline.NewNormalizer(db, minioStore, cfg.Pipeline.MaxImageDim, cfg.Pipeline.JPEGQuality)
	executor := pipeline.NewExecutor(db, minioStore, normalizer, pipeline.ExecutorOptions{
		Train:          runner.Train,
		Generate:       runner.Generate,
		Events:         producer,
		ProgressStride: cfg.Pipeline.ProgressStride,
		ThumbnailDim:   cfg.Pipeline.ThumbnailDim,
		WorkDir:        cfg.Engine.WorkDir,
	})

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start consuming job tasks
	err = consumer.ConsumeJobs(ctx, "pipeline-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var task models.JobTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("unmarshal job task", "error", err)
			return nil // Don't retry on unmarshal errors
		}

		if err := executor.Execute(ctx, task); err != nil {
			return fmt.Errorf("execute job %s: %w", task.JobID, err)
		}

		return nil
	}, cfg.Pipeline.WorkerCount)
	if err != nil {
		slog.Error("start job consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
