package serviceapi

import (
	"bytes"
	"context"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"streamwsm/internal/config"
	"streamwsm/internal/model"
)

func newTestCore(t *testing.T) (*LocalCore, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(dir, "streams.db")
	cfg.Project.Root = dir

	var logs bytes.Buffer
	core, err := NewLocalCore(cfg, log.New(&logs, "", 0))
	if err != nil {
		t.Fatalf("new local core: %v", err)
	}
	t.Cleanup(core.Shutdown)
	return core, &logs
}

func TestUpdateStreamReportsChanges(t *testing.T) {
	core, _ := newTestCore(t)
	ctx := context.Background()

	created, err := core.CreateStream(ctx, model.Stream{ID: "strm-u", Title: "Updatable"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	progress := 30
	status := model.StreamStatusActive
	outcome, err := core.UpdateStream(ctx, created.ID, model.StreamUpdate{Progress: &progress, Status: &status})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok := outcome.Changes["progress"]; !ok {
		t.Errorf("changes = %+v, progress missing", outcome.Changes)
	}
	if got := outcome.Changes["status"]; len(got) != 2 || got[1] != "active" {
		t.Errorf("status change = %+v", got)
	}
}

func TestUpdateStreamWarnsOnReopeningTerminalStream(t *testing.T) {
	core, logs := newTestCore(t)
	ctx := context.Background()

	created, err := core.CreateStream(ctx, model.Stream{ID: "strm-r", Title: "Reopened", Status: model.StreamStatusActive})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := core.CompleteStream(ctx, created.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	logs.Reset()
	status := model.StreamStatusActive
	if _, err := core.UpdateStream(ctx, created.ID, model.StreamUpdate{Status: &status}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !strings.Contains(logs.String(), "reopened from terminal status completed") {
		t.Errorf("no reopen warning logged:\n%s", logs.String())
	}

	// A forward transition stays quiet.
	logs.Reset()
	blocked := model.StreamStatusBlocked
	if _, err := core.UpdateStream(ctx, created.ID, model.StreamUpdate{Status: &blocked}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if strings.Contains(logs.String(), "reopened") || strings.Contains(logs.String(), "against the usual order") {
		t.Errorf("unexpected warning for active -> blocked:\n%s", logs.String())
	}
}
