package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/your-org/lorapix/internal/config"
	"github.com/your-org/lorapix/internal/pipeline"
)

// Runner bridges the pipeline to external train/generate processes.
// Each invocation receives its parameters as JSON on stdin and reports
// progress on stdout as lines of the form:
//
//	PROGRESS <current> <total> [metric]
//
// Any other stdout line is treated as a log line.
type Runner struct {
	trainArgv    []string
	generateArgv []string
}

func New(cfg config.EngineConfig) (*Runner, error) {
	trainArgv := strings.Fields(cfg.TrainCommand)
	if len(trainArgv) == 0 {
		return nil, fmt.Errorf("engine train command is empty")
	}
	generateArgv := strings.Fields(cfg.GenerateCommand)
	if len(generateArgv) == 0 {
		return nil, fmt.Errorf("engine generate command is empty")
	}
	return &Runner{trainArgv: trainArgv, generateArgv: generateArgv}, nil
}

type trainPayload struct {
	BaseModelName string          `json:"base_model_name"`
	TriggerToken  string          `json:"trigger_token"`
	Config        json.RawMessage `json:"config,omitempty"`
	DatasetDir    string          `json:"dataset_dir"`
	OutputDir     string          `json:"output_dir"`
}

type generatePayload struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Steps          int    `json:"steps"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Seed           *int64 `json:"seed,omitempty"`
	LoraDir        string `json:"lora_dir,omitempty"`
	OutputPath     string `json:"output_path"`
}

// Train runs one training process and returns the artifact files it
// left in outputDir.
func (r *Runner) Train(ctx context.Context, spec pipeline.TrainSpec, datasetDir, outputDir string, progress pipeline.ProgressFunc) ([]string, error) {
	payload := trainPayload{
		BaseModelName: spec.BaseModelName,
		TriggerToken:  spec.TriggerToken,
		Config:        spec.Config,
		DatasetDir:    datasetDir,
		OutputDir:     outputDir,
	}
	if err := r.run(ctx, r.trainArgv, payload, progress); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}
	var artifacts []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		artifacts = append(artifacts, filepath.Join(outputDir, entry.Name()))
	}
	return artifacts, nil
}

// Generate runs one synthesis process that must write outputPath.
func (r *Runner) Generate(ctx context.Context, spec pipeline.GenerateSpec, outputPath string, progress pipeline.ProgressFunc) error {
	payload := generatePayload{
		Prompt:         spec.Prompt,
		NegativePrompt: spec.NegativePrompt,
		Steps:          spec.Steps,
		Width:          spec.Width,
		Height:         spec.Height,
		Seed:           spec.Seed,
		LoraDir:        spec.LoraDir,
		OutputPath:     outputPath,
	}
	if err := r.run(ctx, r.generateArgv, payload, progress); err != nil {
		return err
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("engine produced no output: %w", err)
	}
	return nil
}

func (r *Runner) run(ctx context.Context, argv []string, payload interface{}, progress pipeline.ProgressFunc) error {
	input, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal engine payload: %w", err)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(input)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", argv[0], err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if current, total, metric, ok := parseProgress(line); ok {
			if progress != nil {
				progress(current, total, metric)
			}
			continue
		}
		if line != "" {
			slog.Debug("engine output", "command", argv[0], "line", line)
		}
	}

	if err := cmd.Wait(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, lastLines(msg, 5))
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}

// parseProgress decodes a "PROGRESS <current> <total> [metric]" line.
// The metric is -1 when absent.
func parseProgress(line string) (current, total int, metric float64, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[0] != "PROGRESS" {
		return 0, 0, 0, false
	}
	current, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, 0, false
	}
	total, err = strconv.Atoi(fields[2])
	if err != nil {
		return 0, 0, 0, false
	}
	metric = -1
	if len(fields) >= 4 {
		m, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return 0, 0, 0, false
		}
		metric = m
	}
	return current, total, metric, true
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
