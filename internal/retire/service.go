package retire

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"streamwsm/internal/config"
	"streamwsm/internal/gitx"
	"streamwsm/internal/model"
	"streamwsm/internal/store"
)

// Service runs terminal cleanup for a completed stream. Every step is
// attempted regardless of earlier failures; the result records each step
// individually and Success is true only when no step failed. The archive
// file, not the ledger row, is the permanent record afterwards.
type Service struct {
	store      *store.Store
	git        *gitx.Introspector
	workspace  *gitx.Workspace
	repoRoot   string
	historyDir string
	planDirs   []string
	push       bool
	logger     *log.Logger
}

type Request struct {
	Summary          string `json:"summary,omitempty"`
	DeleteWorktree   bool   `json:"delete_worktree"`
	CleanupPlanFiles bool   `json:"cleanup_plan_files"`
}

type Result struct {
	StreamID         string   `json:"stream_id"`
	ArchivePath      string   `json:"archive_path,omitempty"`
	ArchiveWritten   bool     `json:"archive_written"`
	ArchiveCommitted bool     `json:"archive_committed"`
	SummaryJobID     string   `json:"summary_job_id,omitempty"`
	WorktreeDeleted  bool     `json:"worktree_deleted"`
	BranchDeleted    bool     `json:"branch_deleted"`
	PlanFilesRemoved bool     `json:"plan_files_removed"`
	Errors           []string `json:"errors,omitempty"`
	Success          bool     `json:"success"`
}

func NewService(st *store.Store, git *gitx.Introspector, workspace *gitx.Workspace,
	cfg config.Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:      st,
		git:        git,
		workspace:  workspace,
		repoRoot:   cfg.Project.Root,
		historyDir: cfg.Retire.HistoryDir,
		planDirs:   cfg.Retire.PlanDirs,
		push:       cfg.Retire.Push,
		logger:     logger,
	}
}

// Retire takes a snapshot of the stream because the caller deletes the
// ledger row right after this returns, partial failure or not.
func (s *Service) Retire(ctx context.Context, stream model.Stream, req Request) Result {
	result := Result{StreamID: stream.ID}

	s.archiveStep(ctx, stream, req, &result)
	if result.ArchiveWritten {
		s.enqueueStep(stream, req, &result)
	}
	if req.DeleteWorktree {
		s.worktreeStep(ctx, stream, &result)
	}
	if req.CleanupPlanFiles {
		s.planFilesStep(ctx, stream, &result)
	}

	result.Success = len(result.Errors) == 0
	s.logger.Printf("retire %s: success=%v errors=%d", stream.ID, result.Success, len(result.Errors))
	return result
}

func (s *Service) archiveStep(ctx context.Context, stream model.Stream, req Request, result *Result) {
	relPath := filepath.Join(s.historyDir, stream.ID+".md")
	absPath := filepath.Join(s.repoRoot, relPath)
	result.ArchivePath = relPath

	mergeCommit := ""
	if stream.Branch != "" {
		if hash, found := s.git.MergeCommitFor(ctx, stream.Branch); found {
			mergeCommit = hash
		}
	}
	if mergeCommit == "" {
		if hash, found := s.git.MergeCommitFor(ctx, stream.ID); found {
			mergeCommit = hash
		}
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		result.Errors = append(result.Errors, errors.Wrap(err, "create history dir").Error())
		return
	}
	if err := os.WriteFile(absPath, []byte(archiveReport(stream, req.Summary, mergeCommit)), 0o644); err != nil {
		result.Errors = append(result.Errors, errors.Wrap(err, "write archive report").Error())
		return
	}
	result.ArchiveWritten = true

	message := fmt.Sprintf("Archive stream %s: %s", stream.ID, stream.Title)
	if err := s.workspace.CommitPaths(ctx, []string{relPath}, message); err != nil {
		result.Errors = append(result.Errors, errors.Wrap(err, "commit archive report").Error())
		return
	}
	result.ArchiveCommitted = true
	if s.push {
		if err := s.workspace.Push(ctx, s.git.MainBranch()); err != nil {
			result.Errors = append(result.Errors, errors.Wrap(err, "push archive report").Error())
		}
	}
}

func (s *Service) enqueueStep(stream model.Stream, req Request, result *Result) {
	job, err := s.store.EnqueueSummaryJob(model.SummaryJob{
		StreamID:     stream.ID,
		Title:        stream.Title,
		Branch:       stream.Branch,
		Category:     stream.Category,
		WorktreePath: stream.WorktreePath,
		UserSummary:  req.Summary,
		ArchivePath:  result.ArchivePath,
	})
	if err != nil {
		result.Errors = append(result.Errors, errors.Wrap(err, "enqueue summary job").Error())
		return
	}
	result.SummaryJobID = job.JobID
}

func (s *Service) worktreeStep(ctx context.Context, stream model.Stream, result *Result) {
	if err := s.workspace.RemoveWorktree(ctx, stream.WorktreePath); err != nil {
		result.Errors = append(result.Errors, errors.Wrap(err, "remove worktree").Error())
		return
	}
	result.WorktreeDeleted = true

	// Branch deletion is best effort: a branch already gone is nothing to
	// do, and one checked out elsewhere stays.
	if stream.Branch != "" && s.git.BranchExists(ctx, stream.Branch) {
		if err := s.workspace.DeleteBranch(ctx, stream.Branch); err != nil {
			s.logger.Printf("retire %s: branch delete skipped: %v", stream.ID, err)
		} else {
			result.BranchDeleted = true
		}
	}
}

func (s *Service) planFilesStep(ctx context.Context, stream model.Stream, result *Result) {
	var doomed []string
	for _, dir := range s.planDirs {
		entries, err := os.ReadDir(filepath.Join(s.repoRoot, dir))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if strings.Contains(entry.Name(), stream.ID) {
				doomed = append(doomed, filepath.Join(dir, entry.Name()))
			}
		}
	}
	if len(doomed) == 0 {
		result.PlanFilesRemoved = true
		return
	}

	// git rm stages and deletes tracked files; RemoveAll catches untracked ones.
	if err := s.workspace.RemovePaths(ctx, doomed); err != nil {
		result.Errors = append(result.Errors, errors.Wrap(err, "remove plan files").Error())
		return
	}
	for _, rel := range doomed {
		_ = os.RemoveAll(filepath.Join(s.repoRoot, rel))
	}
	message := fmt.Sprintf("Remove planning files for stream %s", stream.ID)
	if err := s.workspace.CommitStaged(ctx, message); err != nil {
		result.Errors = append(result.Errors, errors.Wrap(err, "commit plan file removal").Error())
		return
	}
	result.PlanFilesRemoved = true
	if s.push {
		if err := s.workspace.Push(ctx, s.git.MainBranch()); err != nil {
			result.Errors = append(result.Errors, errors.Wrap(err, "push plan file removal").Error())
		}
	}
}

func archiveReport(stream model.Stream, summary string, mergeCommit string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Stream Archive: %s\n\n", stream.Title)
	fmt.Fprintf(&b, "- **ID**: %s\n", stream.ID)
	fmt.Fprintf(&b, "- **Branch**: %s\n", stream.Branch)
	fmt.Fprintf(&b, "- **Category**: %s\n", stream.Category)
	fmt.Fprintf(&b, "- **Priority**: %s\n", stream.Priority)
	fmt.Fprintf(&b, "- **Created**: %s\n", stream.CreatedAt.Format(time.RFC3339))
	if stream.CompletedAt != nil {
		fmt.Fprintf(&b, "- **Completed**: %s\n", stream.CompletedAt.Format(time.RFC3339))
	}
	if mergeCommit != "" {
		fmt.Fprintf(&b, "- **Merge commit**: %s\n", mergeCommit)
	}
	b.WriteString("\n## Summary\n\n")
	if summary != "" {
		b.WriteString(summary)
	} else {
		b.WriteString("_No summary provided._")
	}
	b.WriteString("\n")
	return b.String()
}
