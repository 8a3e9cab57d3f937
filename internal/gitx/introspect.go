package gitx

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"streamwsm/internal/model"
)

// Introspector answers read-only questions about the project repository by
// shelling out to git. Queries never fail the caller: a broken repo or a
// missing git binary degrades to empty results, logged once per call.
type Introspector struct {
	repoRoot   string
	mainBranch string
	logger     *log.Logger
}

func NewIntrospector(repoRoot string, mainBranch string, logger *log.Logger) *Introspector {
	if logger == nil {
		logger = log.Default()
	}
	return &Introspector{repoRoot: repoRoot, mainBranch: mainBranch, logger: logger}
}

func (g *Introspector) MainBranch() string { return g.mainBranch }

// ListWorktrees parses `git worktree list --porcelain`. The entry whose
// branch is the main branch (or whose path is the repo root) is tagged main.
func (g *Introspector) ListWorktrees(ctx context.Context) []model.WorktreeInfo {
	out, err := runGit(ctx, g.repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		g.logger.Printf("gitx: worktree list failed: %v", err)
		return nil
	}
	absRoot, _ := filepath.Abs(g.repoRoot)

	var worktrees []model.WorktreeInfo
	current := model.WorktreeInfo{}
	flush := func() {
		if current.Path == "" {
			return
		}
		absPath, _ := filepath.Abs(current.Path)
		current.IsMain = current.Branch == g.mainBranch || absPath == absRoot
		worktrees = append(worktrees, current)
		current = model.WorktreeInfo{}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.CommitHash = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			ref := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(ref, "refs/heads/")
		}
	}
	flush()
	return worktrees
}

// MergedBranches reports the local branches already merged into main.
func (g *Introspector) MergedBranches(ctx context.Context) map[string]bool {
	out, err := runGit(ctx, g.repoRoot, "branch", "--merged", g.mainBranch,
		"--format=%(refname:short)")
	if err != nil {
		g.logger.Printf("gitx: merged branches failed: %v", err)
		return map[string]bool{}
	}
	merged := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		branch := strings.TrimSpace(line)
		if branch == "" || branch == g.mainBranch {
			continue
		}
		merged[branch] = true
	}
	return merged
}

func (g *Introspector) BranchExists(ctx context.Context, branch string) bool {
	_, err := runGit(ctx, g.repoRoot, "show-ref", "--verify", "--quiet",
		"refs/heads/"+branch)
	return err == nil
}

// BranchCommits returns the commits unique to branch, newest first, bounded
// by the scan window and limit. FilesChanged counts numstat lines, so a
// binary file still counts as one.
func (g *Introspector) BranchCommits(ctx context.Context, branch string, windowDays int, limit int) []model.Commit {
	return g.logCommits(ctx, windowDays, limit, branch, "--not", g.mainBranch)
}

// MainCommits returns recent commits on the main branch itself.
func (g *Introspector) MainCommits(ctx context.Context, windowDays int, limit int) []model.Commit {
	return g.logCommits(ctx, windowDays, limit, g.mainBranch)
}

// MergeCommitFor finds the newest merge commit on main whose message
// mentions the branch. Returns ("", false) when none exists.
func (g *Introspector) MergeCommitFor(ctx context.Context, branch string) (string, bool) {
	out, err := runGit(ctx, g.repoRoot, "log", g.mainBranch, "--merges",
		"--fixed-strings", "--grep="+branch, "-n", "1", "--format=%H")
	if err != nil {
		g.logger.Printf("gitx: merge commit lookup for %s failed: %v", branch, err)
		return "", false
	}
	hash := strings.TrimSpace(out)
	return hash, hash != ""
}

const (
	recordSep = "\x1e"
	fieldSep  = "\x1f"
)

func (g *Introspector) logCommits(ctx context.Context, windowDays int, limit int, revArgs ...string) []model.Commit {
	args := append([]string{"log"}, revArgs...)
	args = append(args,
		"--pretty=format:"+recordSep+"%H"+fieldSep+"%an"+fieldSep+"%aI"+fieldSep+"%s",
		"--numstat",
		fmt.Sprintf("--since=%d.days", windowDays),
		fmt.Sprintf("--max-count=%d", limit),
	)
	out, err := runGit(ctx, g.repoRoot, args...)
	if err != nil {
		g.logger.Printf("gitx: log %s failed: %v", strings.Join(revArgs, " "), err)
		return nil
	}

	var commits []model.Commit
	for _, record := range strings.Split(out, recordSep) {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		lines := strings.Split(record, "\n")
		fields := strings.Split(lines[0], fieldSep)
		if len(fields) != 4 {
			continue
		}
		commit := model.Commit{
			CommitHash: fields[0],
			Author:     fields[1],
			Message:    fields[3],
		}
		if t, err := time.Parse(time.RFC3339, fields[2]); err == nil {
			commit.Timestamp = t.UTC()
		}
		for _, line := range lines[1:] {
			if strings.TrimSpace(line) != "" {
				commit.FilesChanged++
			}
		}
		commits = append(commits, commit)
	}
	return commits
}

// runGit executes git in dir and returns trimmed stdout. Stderr rides along
// in the error for diagnostics.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("git %s: %w: %s", args[0], err,
				strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}
