package reconcile

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"streamwsm/internal/gitx"
	"streamwsm/internal/model"
	"streamwsm/internal/store"
)

// Engine compares what the ledger believes against what git reports and
// classifies every stream. Mutations only happen outside dry-run, and each
// one leaves a history event behind.
type Engine struct {
	store        *store.Store
	git          *gitx.Introspector
	worktreeRoot string
	logger       *log.Logger
}

type Options struct {
	DryRun           bool `json:"dry_run"`
	AutoArchiveStale bool `json:"auto_archive_stale"`
}

type Classification string

const (
	ClassActive    Classification = "active"
	ClassCompleted Classification = "completed"
	ClassStale     Classification = "stale"
)

type StreamResult struct {
	StreamID string         `json:"stream_id"`
	Branch   string         `json:"branch,omitempty"`
	Class    Classification `json:"class"`
	Reason   string         `json:"reason"`
	Mutated  bool           `json:"mutated"`
}

type Report struct {
	Active         []StreamResult       `json:"active"`
	Completed      []StreamResult       `json:"completed"`
	Stale          []StreamResult       `json:"stale"`
	Orphans        []model.WorktreeInfo `json:"orphans"`
	TotalStreams   int                  `json:"total_streams"`
	TotalWorktrees int                  `json:"total_worktrees"`
	Errors         []string             `json:"errors,omitempty"`
	DryRun         bool                 `json:"dry_run"`
}

// New takes the worktree root that relative recorded paths resolve against.
func New(st *store.Store, git *gitx.Introspector, worktreeRoot string, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{store: st, git: git, worktreeRoot: worktreeRoot, logger: logger}
}

// Reconcile runs one full pass. Classification is exhaustive: every ledger
// stream lands in exactly one of active, completed, or stale. A merged
// branch always wins over filesystem state. One stream's failure is recorded
// and the pass continues.
func (e *Engine) Reconcile(ctx context.Context, opts Options) (Report, error) {
	report := Report{DryRun: opts.DryRun}

	worktrees := e.git.ListWorktrees(ctx)
	merged := e.git.MergedBranches(ctx)
	report.TotalWorktrees = len(worktrees)

	byID := map[string]model.WorktreeInfo{}
	for _, wt := range worktrees {
		if !wt.IsMain {
			byID[filepath.Base(wt.Path)] = wt
		}
	}
	matched := map[string]bool{}

	streams, err := e.store.ListStreams(model.StreamFilter{})
	if err != nil {
		return report, fmt.Errorf("list streams: %w", err)
	}
	report.TotalStreams = len(streams)

	for _, stream := range streams {
		result, err := e.classify(stream, byID, merged, matched, opts)
		if err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("stream %s: %v", stream.ID, err))
			continue
		}
		switch result.Class {
		case ClassCompleted:
			report.Completed = append(report.Completed, result)
		case ClassStale:
			report.Stale = append(report.Stale, result)
		default:
			report.Active = append(report.Active, result)
		}
	}

	for id, wt := range byID {
		if !matched[id] {
			report.Orphans = append(report.Orphans, wt)
		}
	}

	e.logger.Printf("reconcile: %d active, %d completed, %d stale, %d orphans, %d errors (dry_run=%v)",
		len(report.Active), len(report.Completed), len(report.Stale),
		len(report.Orphans), len(report.Errors), opts.DryRun)
	return report, nil
}

func (e *Engine) classify(stream model.Stream,
	byID map[string]model.WorktreeInfo, merged map[string]bool,
	matched map[string]bool, opts Options) (StreamResult, error) {

	result := StreamResult{StreamID: stream.ID, Branch: stream.Branch}

	_, hasDiscovered := byID[stream.ID]
	if hasDiscovered {
		matched[stream.ID] = true
	}
	hasPath := false
	if stream.WorktreePath != "" {
		if _, err := os.Stat(e.resolvePath(stream.WorktreePath)); err == nil {
			hasPath = true
		}
	}

	switch {
	case stream.Branch != "" && merged[stream.Branch]:
		result.Class = ClassCompleted
		result.Reason = fmt.Sprintf("branch %s merged into %s", stream.Branch, e.git.MainBranch())
		if !opts.DryRun && stream.Status != model.StreamStatusCompleted &&
			stream.Status != model.StreamStatusArchived {
			if _, err := e.store.CompleteStream(stream.ID); err != nil {
				return result, err
			}
			if err := e.recordChange(stream, model.EventCompleted, string(model.StreamStatusCompleted), result.Reason); err != nil {
				return result, err
			}
			result.Mutated = true
		}

	case !hasDiscovered && !hasPath:
		result.Class = ClassStale
		result.Reason = "no worktree found by id or recorded path"
		if !opts.DryRun && opts.AutoArchiveStale && stream.Status != model.StreamStatusArchived {
			status := model.StreamStatusArchived
			if _, err := e.store.UpdateStream(stream.ID, model.StreamUpdate{Status: &status}); err != nil {
				return result, err
			}
			if err := e.recordChange(stream, model.EventArchived, string(status), result.Reason); err != nil {
				return result, err
			}
			result.Mutated = true
		}

	default:
		result.Class = ClassActive
		result.Reason = "worktree present"
		if !workingStatus(stream.Status) {
			result.Reason = fmt.Sprintf("worktree present, status %s normalized to active", stream.Status)
			if !opts.DryRun {
				status := model.StreamStatusActive
				if _, err := e.store.UpdateStream(stream.ID, model.StreamUpdate{Status: &status}); err != nil {
					return result, err
				}
				if err := e.recordChange(stream, model.EventStatusChanged, string(status), result.Reason); err != nil {
					return result, err
				}
				result.Mutated = true
			}
		}
	}
	return result, nil
}

// resolvePath anchors relative recorded worktree paths at the configured
// worktree root so streams created with short paths still stat correctly.
func (e *Engine) resolvePath(path string) string {
	if filepath.IsAbs(path) || e.worktreeRoot == "" {
		return path
	}
	return filepath.Join(e.worktreeRoot, path)
}

func (e *Engine) recordChange(stream model.Stream, eventType model.HistoryEventType, newStatus string, reason string) error {
	return e.store.AddHistoryEvent(model.HistoryEvent{
		StreamID:  stream.ID,
		EventType: eventType,
		OldValue:  string(stream.Status),
		NewValue:  newStatus + " (" + reason + ")",
	})
}

func workingStatus(status model.StreamStatus) bool {
	return status == model.StreamStatusActive ||
		status == model.StreamStatusBlocked ||
		status == model.StreamStatusPaused
}
