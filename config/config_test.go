package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8090" || cfg.DBPath != "data/gather.db" || cfg.Embedder != "mock" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Session.InactivityWindow.Std() != 24*time.Hour {
		t.Errorf("inactivity window default: %v", cfg.Session.InactivityWindow)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gather.yaml")
	content := `
listen_addr: ":9999"
embedder: onnx
planner:
  present_limit: 7
  over_fetch: 2
onnx:
  model_path: /models/minilm.onnx
session:
  cleanup_interval: 30m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9999" || cfg.Embedder != "onnx" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Planner.PresentLimit != 7 || cfg.Planner.OverFetch != 2 {
		t.Errorf("planner values not applied: %+v", cfg.Planner)
	}
	if cfg.Onnx.ModelPath != "/models/minilm.onnx" {
		t.Errorf("onnx values not applied: %+v", cfg.Onnx)
	}
	if cfg.Session.CleanupInterval.Std() != 30*time.Minute {
		t.Errorf("session values not applied: %+v", cfg.Session)
	}
	// Untouched fields keep their defaults.
	if cfg.DBPath != "data/gather.db" {
		t.Errorf("default lost: %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GATHER_LISTEN_ADDR", ":7777")
	t.Setenv("GATHER_PRESENT_LIMIT", "3")
	t.Setenv("GATHER_SESSION_INACTIVITY", "2h")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":7777" {
		t.Errorf("env override not applied: %s", cfg.ListenAddr)
	}
	if cfg.Planner.PresentLimit != 3 {
		t.Errorf("env int override not applied: %d", cfg.Planner.PresentLimit)
	}
	if cfg.Session.InactivityWindow.Std() != 2*time.Hour {
		t.Errorf("env duration override not applied: %v", cfg.Session.InactivityWindow)
	}
}

func TestInvalidEmbedderRejected(t *testing.T) {
	t.Setenv("GATHER_EMBEDDER", "banana")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for an unknown embedder")
	}
}
