package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "config.json")
	cfg, finalPath, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if finalPath != path {
		t.Errorf("finalPath = %q", finalPath)
	}
	if cfg.Project.MainBranch != "main" || cfg.Scan.CommitLimit != 50 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Project.Name == "" {
		t.Error("project name not derived from root")
	}
	if cfg.Server.LockCacheRoot == "" {
		t.Error("lock cache root not filled")
	}
}

func TestSaveDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.json")
	if err := SaveDefault(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("load saved config: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("saved config is invalid: %v", err)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"version":1,"db_path":"x.db","project":{"main_branch":"main"},"scan":{"commit_limit":0,"window_days":7}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(path); err == nil {
		t.Error("zero commit_limit accepted")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(path); err == nil {
		t.Error("malformed config accepted")
	}
}
