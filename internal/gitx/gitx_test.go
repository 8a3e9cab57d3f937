package gitx

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := runGit(context.Background(), dir, args...)
	if err != nil {
		t.Fatalf("git %v: %v", args, err)
	}
	return out
}

func newTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitRun(t, dir, "init", "-b", "main")
	gitRun(t, dir, "config", "user.email", "dev@example.com")
	gitRun(t, dir, "config", "user.name", "Dev")
	writeAndCommit(t, dir, "README.md", "# test\n", "initial commit")
	return dir
}

func writeAndCommit(t *testing.T, dir string, name string, content string, message string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	gitRun(t, dir, "add", name)
	gitRun(t, dir, "commit", "-m", message)
}

func TestListWorktrees(t *testing.T) {
	requireGit(t)
	repo := newTestRepo(t)
	ctx := context.Background()

	wtPath := filepath.Join(t.TempDir(), "stream-auth")
	gitRun(t, repo, "worktree", "add", "-b", "stream/auth", wtPath)

	g := NewIntrospector(repo, "main", nil)
	worktrees := g.ListWorktrees(ctx)
	if len(worktrees) != 2 {
		t.Fatalf("got %d worktrees, want 2: %+v", len(worktrees), worktrees)
	}

	byBranch := map[string]bool{}
	for _, wt := range worktrees {
		byBranch[wt.Branch] = wt.IsMain
		if wt.CommitHash == "" {
			t.Errorf("worktree %s has no HEAD hash", wt.Path)
		}
	}
	if isMain, ok := byBranch["main"]; !ok || !isMain {
		t.Errorf("main worktree not tagged: %+v", worktrees)
	}
	if isMain, ok := byBranch["stream/auth"]; !ok || isMain {
		t.Errorf("stream worktree mis-tagged: %+v", worktrees)
	}
}

func TestListWorktreesBadRepoReturnsEmpty(t *testing.T) {
	requireGit(t)
	g := NewIntrospector(t.TempDir(), "main", nil)
	if worktrees := g.ListWorktrees(context.Background()); len(worktrees) != 0 {
		t.Fatalf("expected empty result from non-repo, got %+v", worktrees)
	}
}

func TestBranchCommitsUniqueToBranch(t *testing.T) {
	requireGit(t)
	repo := newTestRepo(t)
	ctx := context.Background()

	gitRun(t, repo, "checkout", "-b", "stream/payments")
	writeAndCommit(t, repo, "pay.go", "package pay\n", "add payments")
	writeAndCommit(t, repo, "pay_test.go", "package pay\n", "test payments")
	gitRun(t, repo, "checkout", "main")

	g := NewIntrospector(repo, "main", nil)
	commits := g.BranchCommits(ctx, "stream/payments", 7, 50)
	if len(commits) != 2 {
		t.Fatalf("got %d commits, want 2 unique to branch: %+v", len(commits), commits)
	}
	if commits[0].Message != "test payments" {
		t.Errorf("newest first: got %q", commits[0].Message)
	}
	for _, c := range commits {
		if c.CommitHash == "" || c.Author != "Dev" || c.Timestamp.IsZero() {
			t.Errorf("commit fields incomplete: %+v", c)
		}
		if c.FilesChanged != 1 {
			t.Errorf("files changed = %d, want 1: %+v", c.FilesChanged, c)
		}
	}

	if limited := g.BranchCommits(ctx, "stream/payments", 7, 1); len(limited) != 1 {
		t.Errorf("limit not honored: %+v", limited)
	}
}

func TestMainCommits(t *testing.T) {
	requireGit(t)
	repo := newTestRepo(t)
	writeAndCommit(t, repo, "main.go", "package main\n", "main work")

	g := NewIntrospector(repo, "main", nil)
	commits := g.MainCommits(context.Background(), 7, 50)
	if len(commits) != 2 {
		t.Fatalf("got %d main commits, want 2", len(commits))
	}
}

func TestMergedBranches(t *testing.T) {
	requireGit(t)
	repo := newTestRepo(t)
	ctx := context.Background()

	gitRun(t, repo, "checkout", "-b", "stream/done")
	writeAndCommit(t, repo, "done.go", "package done\n", "finish work")
	gitRun(t, repo, "checkout", "main")
	gitRun(t, repo, "merge", "--no-ff", "stream/done", "-m", "Merge branch 'stream/done'")
	gitRun(t, repo, "checkout", "-b", "stream/open")
	writeAndCommit(t, repo, "open.go", "package open\n", "ongoing work")
	gitRun(t, repo, "checkout", "main")

	g := NewIntrospector(repo, "main", nil)
	merged := g.MergedBranches(ctx)
	if !merged["stream/done"] {
		t.Errorf("stream/done not reported merged: %+v", merged)
	}
	if merged["stream/open"] {
		t.Errorf("stream/open wrongly reported merged: %+v", merged)
	}
	if merged["main"] {
		t.Error("main listed as its own merged branch")
	}

	hash, found := g.MergeCommitFor(ctx, "stream/done")
	if !found || hash == "" {
		t.Fatalf("merge commit for stream/done not found")
	}
	if _, found := g.MergeCommitFor(ctx, "stream/open"); found {
		t.Error("found merge commit for unmerged branch")
	}
}

func TestBranchExists(t *testing.T) {
	requireGit(t)
	repo := newTestRepo(t)
	g := NewIntrospector(repo, "main", nil)
	if !g.BranchExists(context.Background(), "main") {
		t.Error("main should exist")
	}
	if g.BranchExists(context.Background(), "stream/ghost") {
		t.Error("ghost branch should not exist")
	}
}

func TestWorkspaceRemoveWorktree(t *testing.T) {
	requireGit(t)
	repo := newTestRepo(t)
	ctx := context.Background()

	wtPath := filepath.Join(t.TempDir(), "stream-rm")
	gitRun(t, repo, "worktree", "add", "-b", "stream/rm", wtPath)

	w := NewWorkspace(repo, nil)
	if err := w.RemoveWorktree(ctx, wtPath); err != nil {
		t.Fatalf("remove worktree: %v", err)
	}
	if _, err := os.Stat(wtPath); !os.IsNotExist(err) {
		t.Errorf("worktree dir still present")
	}

	// Absent path is trivial success.
	if err := w.RemoveWorktree(ctx, wtPath); err != nil {
		t.Fatalf("second remove: %v", err)
	}

	if err := w.DeleteBranch(ctx, "stream/rm"); err != nil {
		t.Fatalf("delete branch: %v", err)
	}
	g := NewIntrospector(repo, "main", nil)
	if g.BranchExists(ctx, "stream/rm") {
		t.Error("branch survived delete")
	}
}

func TestWorkspaceCommitPaths(t *testing.T) {
	requireGit(t)
	repo := newTestRepo(t)
	ctx := context.Background()
	w := NewWorkspace(repo, nil)

	archive := filepath.Join("docs", "history", "stream-x.md")
	if err := os.MkdirAll(filepath.Join(repo, "docs", "history"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo, archive), []byte("# archived\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := w.CommitPaths(ctx, []string{archive}, "archive stream x"); err != nil {
		t.Fatalf("commit paths: %v", err)
	}
	out := gitRun(t, repo, "log", "-n", "1", "--format=%s")
	if out != "archive stream x" {
		t.Errorf("head subject = %q", out)
	}

	// Nothing new to stage: no error, no new commit.
	if err := w.CommitPaths(ctx, []string{archive}, "no-op"); err != nil {
		t.Fatalf("idempotent commit: %v", err)
	}
	if out := gitRun(t, repo, "log", "-n", "1", "--format=%s"); out != "archive stream x" {
		t.Errorf("no-op created commit: %q", out)
	}
}
