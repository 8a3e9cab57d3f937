package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"streamwsm/internal/config"
)

func TestNormalizeInputTokens(t *testing.T) {
	got := normalizeInputTokens([]string{"a,b", " b ", "", "c"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("tokens = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tokens = %v, want %v", got, want)
		}
	}
}

func TestRequireStreamID(t *testing.T) {
	if _, err := requireStreamID("  "); err == nil {
		t.Error("blank id accepted")
	}
	id, err := requireStreamID(" strm-1 ")
	if err != nil {
		t.Fatal(err)
	}
	if id != "strm-1" {
		t.Errorf("id = %q", id)
	}
}

func TestInitConfigCommandWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.json")
	if err := executeCLI([]string{"init-config", "--path", path}); err != nil {
		t.Fatalf("init-config: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var cfg config.Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("written config is invalid: %v", err)
	}
}

func TestCreateAndListAgainstLocalCore(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(dir, "streams.db")
	cfg.Project.Root = dir
	cfg.Project.Name = "cli-test"
	cfg.Server.LockCacheRoot = filepath.Join(dir, "locks")
	cfgPath := filepath.Join(dir, "config.json")
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfgPath, b, 0o644); err != nil {
		t.Fatal(err)
	}

	err = executeCLI([]string{"create",
		"--config", cfgPath,
		"--id", "strm-cli",
		"--title", "CLI smoke stream",
		"--category", "backend",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := executeCLI([]string{"show", "--config", cfgPath, "--id", "strm-cli"}); err != nil {
		t.Fatalf("show: %v", err)
	}
	if err := executeCLI([]string{"list", "--config", cfgPath, "--status", "initializing"}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := executeCLI([]string{"complete", "--config", cfgPath, "--id", "strm-cli"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := executeCLI([]string{"stats", "--config", cfgPath}); err != nil {
		t.Fatalf("stats: %v", err)
	}
}

func TestUpdateCommandRequiresID(t *testing.T) {
	if err := executeCLI([]string{"update", "--progress", "10"}); err == nil {
		t.Error("update without --id accepted")
	}
}
