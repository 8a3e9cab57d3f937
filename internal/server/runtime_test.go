package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"streamwsm/internal/config"
	"streamwsm/internal/discovery"
)

func newRuntimeConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(dir, "streams.db")
	cfg.Project.Root = dir
	cfg.Project.Name = "runtime-test-" + filepath.Base(dir)
	cfg.Server.LockCacheRoot = filepath.Join(dir, "locks")
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()
	return port
}

func waitForHealth(t *testing.T, port int) {
	t.Helper()
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, discovery.HealthPath)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server on port %d never became healthy", port)
}

func TestRunWritesLockAfterBindAndRemovesItOnShutdown(t *testing.T) {
	cfg := newRuntimeConfig(t)
	port := freePort(t)

	runtime, err := NewRuntime(cfg, Options{Port: port})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runtime.Run(ctx) }()

	waitForHealth(t, port)

	lockPath := runtime.disco.LockPath()
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("lock file missing while serving: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatalf("lock file survived shutdown: %v", err)
	}
}

func TestRunLosingBindRaceLeavesWinnerLockAlone(t *testing.T) {
	cfg := newRuntimeConfig(t)
	port := freePort(t)

	// Occupy the port so the runtime under test loses the bind.
	occupied, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		t.Fatalf("occupy port: %v", err)
	}
	defer occupied.Close()

	// The winner's lock is already on disk before the loser starts.
	winner := discovery.New(cfg.Server.LockCacheRoot, cfg.Project.Root, cfg.Project.Name,
		cfg.Server.DefaultPort, cfg.Server.PortScanAttempts, time.Second, "test", nil)
	if err := winner.WriteLock(port); err != nil {
		t.Fatalf("write winner lock: %v", err)
	}

	runtime, err := NewRuntime(cfg, Options{Port: port})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if err := runtime.Run(context.Background()); err == nil {
		t.Fatal("run succeeded on an occupied port")
	}

	if _, err := os.Stat(winner.LockPath()); err != nil {
		t.Fatalf("loser removed the winner's lock: %v", err)
	}
}
