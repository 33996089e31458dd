package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SnapshotPolicy.Threshold != 150 {
		t.Errorf("expected default threshold 150, got %d", cfg.SnapshotPolicy.Threshold)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".pippin.yaml")
	content := "repoDir: /data/repo\nlogLevel: debug\nsnapshotPolicy:\n  threshold: 300\nuserFields:\n  - tag: desc\n    value: example\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RepoDir != "/data/repo" || cfg.LogLevel != "debug" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.SnapshotPolicy.Threshold != 300 {
		t.Errorf("expected overridden threshold 300, got %d", cfg.SnapshotPolicy.Threshold)
	}
	if len(cfg.UserFields) != 1 || cfg.UserFields[0].Tag != "desc" {
		t.Errorf("unexpected user fields: %+v", cfg.UserFields)
	}
}
