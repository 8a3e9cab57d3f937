package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const DefaultConfigPath = ".streamwsm/config.json"

// Config is built once at process start and passed into every component
// constructor; components never read the process environment themselves.
type Config struct {
	Version int    `json:"version"`
	DBPath  string `json:"db_path"`
	Project struct {
		Root         string `json:"root"`
		Name         string `json:"name"`
		WorktreeRoot string `json:"worktree_root"`
		MainBranch   string `json:"main_branch"`
	} `json:"project"`
	Scan struct {
		CommitLimit int `json:"commit_limit"`
		WindowDays  int `json:"window_days"`
	} `json:"scan"`
	Server struct {
		DefaultPort      int    `json:"default_port"`
		PortScanAttempts int    `json:"port_scan_attempts"`
		LockCacheRoot    string `json:"lock_cache_root"`
		HealthTimeoutSec int    `json:"health_timeout_sec"`
	} `json:"server"`
	Retire struct {
		HistoryDir string   `json:"history_dir"`
		PlanDirs   []string `json:"plan_dirs"`
		Push       bool     `json:"push"`
	} `json:"retire"`
	Bus struct {
		RedisAddr string `json:"redis_addr"`
		Stream    string `json:"stream"`
	} `json:"bus"`
}

func Default() Config {
	cfg := Config{Version: 1}
	cfg.DBPath = ".streamwsm/streams.db"
	cfg.Project.Root = "."
	cfg.Project.WorktreeRoot = "../worktrees"
	cfg.Project.MainBranch = "main"
	cfg.Scan.CommitLimit = 50
	cfg.Scan.WindowDays = 7
	cfg.Server.DefaultPort = 4611
	cfg.Server.PortScanAttempts = 20
	cfg.Server.HealthTimeoutSec = 2
	cfg.Retire.HistoryDir = "docs/history"
	cfg.Retire.PlanDirs = []string{"docs/plans"}
	cfg.Retire.Push = true
	cfg.Bus.Stream = "streamwsm-events"
	return cfg
}

func Load(path string) (Config, string, error) {
	cfg := Default()
	finalPath := path
	if strings.TrimSpace(finalPath) == "" {
		finalPath = DefaultConfigPath
	}
	if _, err := os.Stat(finalPath); os.IsNotExist(err) {
		return normalize(cfg), finalPath, nil
	}

	b, err := os.ReadFile(finalPath)
	if err != nil {
		return cfg, finalPath, fmt.Errorf("read config %s: %w", finalPath, err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, finalPath, fmt.Errorf("parse config %s: %w", finalPath, err)
	}
	cfg = normalize(cfg)
	if err := Validate(cfg); err != nil {
		return cfg, finalPath, fmt.Errorf("validate config %s: %w", finalPath, err)
	}
	return cfg, finalPath, nil
}

func SaveDefault(path string) error {
	cfg := Default()
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func Validate(cfg Config) error {
	if cfg.Version <= 0 {
		return fmt.Errorf("version must be positive")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if strings.TrimSpace(cfg.Project.MainBranch) == "" {
		return fmt.Errorf("project.main_branch cannot be empty")
	}
	if cfg.Scan.CommitLimit <= 0 {
		return fmt.Errorf("scan.commit_limit must be > 0")
	}
	if cfg.Scan.WindowDays <= 0 {
		return fmt.Errorf("scan.window_days must be > 0")
	}
	if cfg.Server.DefaultPort <= 0 || cfg.Server.DefaultPort > 65535 {
		return fmt.Errorf("server.default_port must be a valid port")
	}
	if cfg.Server.PortScanAttempts <= 0 {
		return fmt.Errorf("server.port_scan_attempts must be > 0")
	}
	if cfg.Server.HealthTimeoutSec <= 0 {
		return fmt.Errorf("server.health_timeout_sec must be > 0")
	}
	if strings.TrimSpace(cfg.Retire.HistoryDir) == "" {
		return fmt.Errorf("retire.history_dir cannot be empty")
	}
	return nil
}

// normalize fills derived fields that Default cannot know statically: the
// project name from its root directory and a per-user lock cache root.
func normalize(cfg Config) Config {
	if strings.TrimSpace(cfg.Project.Name) == "" {
		abs, err := filepath.Abs(cfg.Project.Root)
		if err == nil {
			cfg.Project.Name = filepath.Base(abs)
		}
	}
	if strings.TrimSpace(cfg.Server.LockCacheRoot) == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			cacheDir = os.TempDir()
		}
		cfg.Server.LockCacheRoot = filepath.Join(cacheDir, "streamwsm")
	}
	return cfg
}
