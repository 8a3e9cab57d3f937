package scanner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"streamwsm/internal/gitx"
	"streamwsm/internal/model"
	"streamwsm/internal/store"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func commitFile(t *testing.T, dir string, name string, message string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(name+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	gitRun(t, dir, "add", name)
	gitRun(t, dir, "commit", "-m", message)
}

func newFixture(t *testing.T) (*store.Store, *gitx.Introspector, string) {
	t.Helper()
	requireGit(t)
	repo := t.TempDir()
	gitRun(t, repo, "init", "-b", "main")
	gitRun(t, repo, "config", "user.email", "dev@example.com")
	gitRun(t, repo, "config", "user.name", "Dev")
	commitFile(t, repo, "README.md", "initial commit")

	st, err := store.Open(filepath.Join(t.TempDir(), "streams.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, gitx.NewIntrospector(repo, "main", nil), repo
}

func TestScanAllAttributesCommits(t *testing.T) {
	st, git, repo := newFixture(t)
	ctx := context.Background()

	gitRun(t, repo, "checkout", "-b", "stream/api")
	commitFile(t, repo, "api.go", "api scaffolding")
	commitFile(t, repo, "api_test.go", "api tests")
	gitRun(t, repo, "checkout", "main")

	if _, err := st.InsertStream(model.Stream{ID: "strm-api", Branch: "stream/api", Status: model.StreamStatusActive}); err != nil {
		t.Fatalf("insert stream: %v", err)
	}

	scn := New(st, git, 50, 7, nil)
	result, err := scn.ScanAll(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	// stream/api has 2 unique commits, main has its initial commit.
	if result.CommitsAdded != 3 {
		t.Errorf("commits added = %d, want 3 (result %+v)", result.CommitsAdded, result)
	}
	if result.StreamsScanned != 2 {
		t.Errorf("streams scanned = %d, want 2", result.StreamsScanned)
	}
	if len(result.Errors) != 0 {
		t.Errorf("errors = %v", result.Errors)
	}

	branchCommits, err := st.ListCommits("strm-api")
	if err != nil {
		t.Fatalf("list commits: %v", err)
	}
	if len(branchCommits) != 2 {
		t.Fatalf("branch commits = %+v", branchCommits)
	}
	mainCommits, err := st.ListCommits(model.MainStreamID)
	if err != nil {
		t.Fatalf("list main commits: %v", err)
	}
	if len(mainCommits) != 1 {
		t.Fatalf("main commits = %+v", mainCommits)
	}
}

func TestScanAllIdempotent(t *testing.T) {
	st, git, repo := newFixture(t)
	ctx := context.Background()

	gitRun(t, repo, "checkout", "-b", "stream/dup")
	commitFile(t, repo, "dup.go", "work")
	gitRun(t, repo, "checkout", "main")
	if _, err := st.InsertStream(model.Stream{ID: "strm-dup", Branch: "stream/dup"}); err != nil {
		t.Fatalf("insert stream: %v", err)
	}

	scn := New(st, git, 50, 7, nil)
	first, err := scn.ScanAll(ctx)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	second, err := scn.ScanAll(ctx)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if second.CommitsAdded != 0 {
		t.Errorf("second scan added %d commits", second.CommitsAdded)
	}
	if second.AlreadyPresent != first.CommitsAdded {
		t.Errorf("already present = %d, want %d", second.AlreadyPresent, first.CommitsAdded)
	}
	if len(second.Errors) != 0 {
		t.Errorf("duplicates surfaced as errors: %v", second.Errors)
	}
}

func TestScanAllCreatesMainStream(t *testing.T) {
	st, git, _ := newFixture(t)

	scn := New(st, git, 50, 7, nil)
	if _, err := scn.ScanAll(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	main, err := st.GetStream(model.MainStreamID)
	if err != nil {
		t.Fatalf("main stream missing: %v", err)
	}
	if main.Status != model.StreamStatusArchived {
		t.Errorf("main stream status = %s", main.Status)
	}

	// Main stream stays out of user-facing listings.
	all, err := st.ListStreams(model.StreamFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("listing leaked synthetic stream: %+v", all)
	}
}

func TestScanSkipsStreamsWithoutBranch(t *testing.T) {
	st, git, _ := newFixture(t)
	if _, err := st.InsertStream(model.Stream{ID: "strm-plain"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	scn := New(st, git, 50, 7, nil)
	result, err := scn.ScanAll(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if result.StreamsScanned != 1 {
		t.Errorf("streams scanned = %d, want just main", result.StreamsScanned)
	}
}
