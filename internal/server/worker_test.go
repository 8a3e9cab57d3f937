package server

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"streamwsm/internal/model"
	"streamwsm/internal/store"
)

func newJobFixture(t *testing.T) (*store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "streams.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, dir
}

func writeArchiveFile(t *testing.T, root string, relPath string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	content := "# Stream Archive: test\n\nRetired.\n"
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunSummaryJobsAppendsToArchive(t *testing.T) {
	st, root := newJobFixture(t)
	archivePath := filepath.Join("docs", "history", "strm-1.md")
	writeArchiveFile(t, root, archivePath)

	job, err := st.EnqueueSummaryJob(model.SummaryJob{
		StreamID:    "strm-1",
		Title:       "Billing rework",
		Branch:      "feat-billing",
		Category:    model.CategoryBackend,
		UserSummary: "moved invoicing to the new service",
		ArchivePath: archivePath,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	worker := NewWorker(nil, st, StaticSummarizer{}, root, time.Hour, 10, time.Hour, nil)
	done, failed, err := worker.runSummaryJobs(context.Background())
	if err != nil {
		t.Fatalf("run summary jobs: %v", err)
	}
	if done != 1 || failed != 0 {
		t.Fatalf("done=%d failed=%d", done, failed)
	}

	b, err := os.ReadFile(filepath.Join(root, archivePath))
	if err != nil {
		t.Fatal(err)
	}
	text := string(b)
	if !strings.Contains(text, "## Generated Summary") {
		t.Errorf("summary section missing:\n%s", text)
	}
	if !strings.Contains(text, "Billing rework") || !strings.Contains(text, "moved invoicing") {
		t.Errorf("summary content missing:\n%s", text)
	}

	stored, err := st.GetSummaryJob(job.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != model.JobStatusDone {
		t.Errorf("job status = %s", stored.Status)
	}
}

func TestRunSummaryJobsMissingArchiveGoesBackToPending(t *testing.T) {
	st, root := newJobFixture(t)

	job, err := st.EnqueueSummaryJob(model.SummaryJob{
		StreamID:    "strm-2",
		Title:       "Ghost archive",
		ArchivePath: filepath.Join("docs", "history", "missing.md"),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	worker := NewWorker(nil, st, StaticSummarizer{}, root, time.Hour, 10, time.Hour, nil)
	done, failed, err := worker.runSummaryJobs(context.Background())
	if err != nil {
		t.Fatalf("run summary jobs: %v", err)
	}
	if done != 0 || failed != 1 {
		t.Fatalf("done=%d failed=%d", done, failed)
	}

	stored, err := st.GetSummaryJob(job.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != model.JobStatusPending {
		t.Errorf("job status = %s, want pending for retry", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Errorf("attempts = %d", stored.Attempts)
	}
	if stored.ErrorMessage == "" {
		t.Error("error message not recorded")
	}
}

func TestWorkerStartAndWait(t *testing.T) {
	st, root := newJobFixture(t)
	core := newMockCore()

	worker := NewWorker(core, st, StaticSummarizer{}, root, 10*time.Millisecond, 10, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		snapshot := worker.Snapshot()
		if snapshot.Running && snapshot.LastTickAt != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("worker never ticked")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if !worker.Wait(2 * time.Second) {
		t.Fatal("worker did not stop")
	}
	if worker.Snapshot().Running {
		t.Error("snapshot still reports running")
	}
}
