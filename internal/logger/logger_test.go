package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{}},
		{name: "json_to_stdout", cfg: Config{Level: "debug", Format: "json", OutputPath: "stdout"}},
		{name: "rejects_bad_level", cfg: Config{Level: "loud"}, wantErr: true},
		{name: "rejects_bad_format", cfg: Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.cfg)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if log == nil {
				t.Fatal("expected logger, got nil")
			}
		})
	}
}

func TestNew_writes_json_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detbox.log")
	log, err := New(Config{Level: "info", Format: "json", OutputPath: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log.Debug("hidden")
	log.Info("Preloaded classes into sandbox", zap.Int("classes", 3))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if entry["msg"] != "Preloaded classes into sandbox" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["classes"] != float64(3) {
		t.Errorf("classes = %v, want 3", entry["classes"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
}
