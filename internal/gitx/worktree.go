package gitx

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
)

// Workspace performs the mutating git operations retirement needs. Unlike
// Introspector queries these return errors: the caller decides which steps
// are fatal and which are best effort.
type Workspace struct {
	repoRoot string
	logger   *log.Logger
}

func NewWorkspace(repoRoot string, logger *log.Logger) *Workspace {
	if logger == nil {
		logger = log.Default()
	}
	return &Workspace{repoRoot: repoRoot, logger: logger}
}

// RemoveWorktree detaches a worktree. A path that no longer exists is
// trivial success. When git refuses, the directory is removed by hand and
// the registration pruned.
func (w *Workspace) RemoveWorktree(ctx context.Context, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_, _ = runGit(ctx, w.repoRoot, "worktree", "prune")
		return nil
	}
	if _, err := runGit(ctx, w.repoRoot, "worktree", "remove", path, "--force"); err != nil {
		w.logger.Printf("gitx: worktree remove %s failed, removing by hand: %v", path, err)
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("remove worktree %s: %w (git: %v)", path, rmErr, err)
		}
		_, _ = runGit(ctx, w.repoRoot, "worktree", "prune")
	}
	return nil
}

func (w *Workspace) DeleteBranch(ctx context.Context, branch string) error {
	if strings.TrimSpace(branch) == "" {
		return nil
	}
	if _, err := runGit(ctx, w.repoRoot, "branch", "-D", branch); err != nil {
		return fmt.Errorf("delete branch %s: %w", branch, err)
	}
	return nil
}

// CommitPaths stages the given paths and commits them. Nothing staged is
// trivial success so retirement stays idempotent.
func (w *Workspace) CommitPaths(ctx context.Context, paths []string, message string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "--"}, paths...)
	if _, err := runGit(ctx, w.repoRoot, args...); err != nil {
		return fmt.Errorf("stage %v: %w", paths, err)
	}
	// diff --cached exits zero when nothing is staged.
	if _, err := runGit(ctx, w.repoRoot, "diff", "--cached", "--quiet"); err == nil {
		return nil
	}
	if _, err := runGit(ctx, w.repoRoot, "commit", "-m", message); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CommitStaged commits whatever is already in the index, or does nothing.
func (w *Workspace) CommitStaged(ctx context.Context, message string) error {
	if _, err := runGit(ctx, w.repoRoot, "diff", "--cached", "--quiet"); err == nil {
		return nil
	}
	if _, err := runGit(ctx, w.repoRoot, "commit", "-m", message); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (w *Workspace) Push(ctx context.Context, branch string) error {
	if _, err := runGit(ctx, w.repoRoot, "push", "origin", branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// RemovePaths deletes tracked files, tolerating ones that are already gone.
func (w *Workspace) RemovePaths(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"rm", "--ignore-unmatch", "--quiet", "--"}, paths...)
	if _, err := runGit(ctx, w.repoRoot, args...); err != nil {
		return fmt.Errorf("remove %v: %w", paths, err)
	}
	return nil
}
