package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"streamwsm/internal/config"
	"streamwsm/internal/discovery"
	"streamwsm/internal/serviceapi"
)

// newCore routes the command to a live server for this project when one is
// running and falls back to opening the ledger in process otherwise. Remote
// and local cores expose the same surface, so callers never branch.
func newCore(ctx context.Context, cfg config.Config) (serviceapi.Core, error) {
	disco := newDiscovery(cfg, log.New(io.Discard, "", 0))
	result, err := disco.Discover(ctx)
	if err == nil && result.Existing {
		baseURL := fmt.Sprintf("http://127.0.0.1:%d", result.Port)
		return serviceapi.NewRemoteCore(baseURL, 15*time.Second), nil
	}
	return serviceapi.NewLocalCore(cfg, log.New(os.Stderr, "", log.LstdFlags))
}

func newDiscovery(cfg config.Config, logger *log.Logger) *discovery.Discovery {
	return discovery.New(cfg.Server.LockCacheRoot, cfg.Project.Root, cfg.Project.Name,
		cfg.Server.DefaultPort, cfg.Server.PortScanAttempts,
		time.Duration(cfg.Server.HealthTimeoutSec)*time.Second,
		version, logger)
}

func loadConfig(path string) (config.Config, error) {
	cfg, _, err := config.Load(path)
	return cfg, err
}
