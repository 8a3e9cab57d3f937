package scanner

import (
	"context"
	"fmt"
	"log"

	"streamwsm/internal/gitx"
	"streamwsm/internal/model"
	"streamwsm/internal/store"
)

// Scanner walks every ledger stream plus the main branch and records the
// commits git reports for each. Duplicate hashes are expected on every pass
// after the first and are counted, not reported as errors.
type Scanner struct {
	store       *store.Store
	git         *gitx.Introspector
	logger      *log.Logger
	commitLimit int
	windowDays  int
}

type Result struct {
	StreamsScanned int      `json:"streams_scanned"`
	CommitsAdded   int      `json:"commits_added"`
	AlreadyPresent int      `json:"already_present"`
	Errors         []string `json:"errors,omitempty"`
}

func New(st *store.Store, git *gitx.Introspector, commitLimit int, windowDays int, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.Default()
	}
	return &Scanner{store: st, git: git, logger: logger, commitLimit: commitLimit, windowDays: windowDays}
}

// ScanAll runs one full pass. One stream's failure never aborts the rest.
func (s *Scanner) ScanAll(ctx context.Context) (Result, error) {
	result := Result{}
	if err := s.ensureMainStream(); err != nil {
		return result, err
	}

	streams, err := s.store.ListStreams(model.StreamFilter{})
	if err != nil {
		return result, fmt.Errorf("list streams: %w", err)
	}
	for _, stream := range streams {
		if stream.Branch == "" {
			continue
		}
		result.StreamsScanned++
		commits := s.git.BranchCommits(ctx, stream.Branch, s.windowDays, s.commitLimit)
		s.recordCommits(stream.ID, commits, &result)
	}

	result.StreamsScanned++
	s.recordCommits(model.MainStreamID, s.git.MainCommits(ctx, s.windowDays, s.commitLimit), &result)

	s.logger.Printf("scan: %d streams, %d new commits, %d already present, %d errors",
		result.StreamsScanned, result.CommitsAdded, result.AlreadyPresent, len(result.Errors))
	return result, nil
}

func (s *Scanner) recordCommits(streamID string, commits []model.Commit, result *Result) {
	for _, commit := range commits {
		commit.StreamID = streamID
		outcome, err := s.store.AddCommit(commit)
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("stream %s commit %s: %v", streamID, commit.CommitHash, err))
			continue
		}
		switch outcome {
		case store.Inserted:
			result.CommitsAdded++
		case store.InsertAlreadyExists:
			result.AlreadyPresent++
		}
	}
}

// ensureMainStream keeps the permanent synthetic stream that owns main-branch
// commits. It is created archived so it never shows up as work in progress.
func (s *Scanner) ensureMainStream() error {
	_, err := s.store.InsertStream(model.Stream{
		ID:       model.MainStreamID,
		Title:    "Main branch",
		Status:   model.StreamStatusArchived,
		Category: model.CategoryInfrastructure,
		Branch:   s.git.MainBranch(),
	})
	if err != nil && !model.IsConflict(err) {
		return fmt.Errorf("ensure main stream: %w", err)
	}
	return nil
}
