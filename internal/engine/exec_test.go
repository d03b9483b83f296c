package engine

import (
	"testing"

	"github.com/your-org/lorapix/internal/config"
)

func TestParseProgress(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		current int
		total   int
		metric  float64
		ok      bool
	}{
		{"bare", "PROGRESS 10 100", 10, 100, -1, true},
		{"with metric", "PROGRESS 10 100 0.042", 10, 100, 0.042, true},
		{"final step", "PROGRESS 100 100", 100, 100, -1, true},
		{"log line", "loading checkpoint shards", 0, 0, 0, false},
		{"wrong tag", "PROG 10 100", 0, 0, 0, false},
		{"missing total", "PROGRESS 10", 0, 0, 0, false},
		{"non-numeric", "PROGRESS ten 100", 0, 0, 0, false},
		{"bad metric", "PROGRESS 10 100 nanometers", 0, 0, 0, false},
		{"empty", "", 0, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current, total, metric, ok := parseProgress(tt.line)
			if ok != tt.ok {
				t.Fatalf("parseProgress(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			}
			if !ok {
				return
			}
			if current != tt.current || total != tt.total || metric != tt.metric {
				t.Fatalf("parseProgress(%q) = (%d, %d, %v), want (%d, %d, %v)",
					tt.line, current, total, metric, tt.current, tt.total, tt.metric)
			}
		})
	}
}

func TestNewRejectsEmptyCommands(t *testing.T) {
	_, err := New(config.EngineConfig{TrainCommand: "", GenerateCommand: "run-generate"})
	if err == nil {
		t.Fatal("expected error for empty train command")
	}
	_, err = New(config.EngineConfig{TrainCommand: "run-train --flag", GenerateCommand: "   "})
	if err == nil {
		t.Fatal("expected error for empty generate command")
	}
}
