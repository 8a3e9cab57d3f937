package model

import "time"

// MainStreamID is the synthetic ledger stream that owns commits observed on
// the main branch, so commit foreign keys work uniformly.
const MainStreamID = "main"

type StreamStatus string

const (
	StreamStatusInitializing StreamStatus = "initializing"
	StreamStatusActive       StreamStatus = "active"
	StreamStatusBlocked      StreamStatus = "blocked"
	StreamStatusPaused       StreamStatus = "paused"
	StreamStatusCompleted    StreamStatus = "completed"
	StreamStatusArchived     StreamStatus = "archived"
)

type StreamCategory string

const (
	CategoryFrontend       StreamCategory = "frontend"
	CategoryBackend        StreamCategory = "backend"
	CategoryInfrastructure StreamCategory = "infrastructure"
	CategoryTesting        StreamCategory = "testing"
	CategoryDocumentation  StreamCategory = "documentation"
	CategoryRefactoring    StreamCategory = "refactoring"
)

type StreamPriority string

const (
	PriorityCritical StreamPriority = "critical"
	PriorityHigh     StreamPriority = "high"
	PriorityMedium   StreamPriority = "medium"
	PriorityLow      StreamPriority = "low"
)

type HistoryEventType string

const (
	EventCreated         HistoryEventType = "created"
	EventStatusChanged   HistoryEventType = "status_changed"
	EventProgressUpdated HistoryEventType = "progress_updated"
	EventCompleted       HistoryEventType = "completed"
	EventArchived        HistoryEventType = "archived"
)

type Stream struct {
	ID             string          `json:"id"`
	StreamNumber   string          `json:"stream_number"`
	Title          string          `json:"title"`
	Category       StreamCategory  `json:"category"`
	Priority       StreamPriority  `json:"priority"`
	Status         StreamStatus    `json:"status"`
	Progress       int             `json:"progress"`
	CurrentPhase   *int            `json:"current_phase,omitempty"`
	WorktreePath   string          `json:"worktree_path"`
	Branch         string          `json:"branch"`
	BlockedBy      string          `json:"blocked_by,omitempty"`
	Phases         []string        `json:"phases,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	RecentActivity *RecentActivity `json:"recent_activity,omitempty"`
}

// RecentActivity is derived from the most recent commit attributed to a
// stream; it is never persisted.
type RecentActivity struct {
	Message      string    `json:"message"`
	Author       string    `json:"author"`
	FilesChanged int       `json:"files_changed"`
	Timestamp    time.Time `json:"timestamp"`
	TimeAgo      string    `json:"time_ago"`
}

type Commit struct {
	StreamID     string    `json:"stream_id"`
	CommitHash   string    `json:"commit_hash"`
	Message      string    `json:"message"`
	Author       string    `json:"author"`
	FilesChanged int       `json:"files_changed"`
	Timestamp    time.Time `json:"timestamp"`
}

type HistoryEvent struct {
	ID        int64            `json:"id"`
	StreamID  string           `json:"stream_id"`
	EventType HistoryEventType `json:"event_type"`
	OldValue  string           `json:"old_value,omitempty"`
	NewValue  string           `json:"new_value,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// WorktreeInfo is recomputed from git on every scan or reconcile pass.
type WorktreeInfo struct {
	Path       string `json:"path"`
	Branch     string `json:"branch"`
	CommitHash string `json:"commit_hash"`
	IsMain     bool   `json:"is_main"`
}

type SummaryJobStatus string

const (
	JobStatusPending SummaryJobStatus = "pending"
	JobStatusRunning SummaryJobStatus = "running"
	JobStatusDone    SummaryJobStatus = "done"
	JobStatusFailed  SummaryJobStatus = "failed"
)

const DefaultJobMaxAttempts = 3

// SummaryJob carries the static metadata of a retired stream; by the time a
// worker picks it up the stream row may already be gone.
type SummaryJob struct {
	JobID        string           `json:"job_id"`
	StreamID     string           `json:"stream_id"`
	Title        string           `json:"title"`
	Branch       string           `json:"branch"`
	Category     StreamCategory   `json:"category"`
	WorktreePath string           `json:"worktree_path"`
	UserSummary  string           `json:"user_summary"`
	ArchivePath  string           `json:"archive_path"`
	Status       SummaryJobStatus `json:"status"`
	Attempts     int              `json:"attempts"`
	MaxAttempts  int              `json:"max_attempts"`
	ErrorMessage string           `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

type StreamFilter struct {
	Status   StreamStatus   `json:"status,omitempty"`
	Category StreamCategory `json:"category,omitempty"`
	Priority StreamPriority `json:"priority,omitempty"`
}

// StreamUpdate is a partial update; nil fields are left untouched.
type StreamUpdate struct {
	Title        *string         `json:"title,omitempty"`
	Status       *StreamStatus   `json:"status,omitempty"`
	Priority     *StreamPriority `json:"priority,omitempty"`
	Progress     *int            `json:"progress,omitempty"`
	CurrentPhase *int            `json:"current_phase,omitempty"`
	BlockedBy    *string         `json:"blocked_by,omitempty"`
	WorktreePath *string         `json:"worktree_path,omitempty"`
	Branch       *string         `json:"branch,omitempty"`
}

func (u StreamUpdate) Empty() bool {
	return u.Title == nil && u.Status == nil && u.Priority == nil &&
		u.Progress == nil && u.CurrentPhase == nil && u.BlockedBy == nil &&
		u.WorktreePath == nil && u.Branch == nil
}

type Stats struct {
	TotalStreams   int `json:"total_streams"`
	Active         int `json:"active"`
	Blocked        int `json:"blocked"`
	Paused         int `json:"paused"`
	CompletedToday int `json:"completed_today"`
	TotalCommits   int `json:"total_commits"`
	CommitsToday   int `json:"commits_today"`
}

type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

type OutboxMessage struct {
	MessageID   string       `json:"message_id"`
	Topic       string       `json:"topic"`
	MessageKey  string       `json:"message_key"`
	PayloadJSON string       `json:"payload_json"`
	Status      OutboxStatus `json:"status"`
	ErrorText   string       `json:"error_text,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

type OutboxStats struct {
	PendingCount        int   `json:"pending_count"`
	SentCount           int   `json:"sent_count"`
	FailedCount         int   `json:"failed_count"`
	OldestPendingAgeSec int64 `json:"oldest_pending_age_sec"`
}

func ValidCategory(c StreamCategory) bool {
	switch c {
	case CategoryFrontend, CategoryBackend, CategoryInfrastructure,
		CategoryTesting, CategoryDocumentation, CategoryRefactoring:
		return true
	}
	return false
}

func ValidPriority(p StreamPriority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

func ValidStatus(s StreamStatus) bool {
	switch s {
	case StreamStatusInitializing, StreamStatusActive, StreamStatusBlocked,
		StreamStatusPaused, StreamStatusCompleted, StreamStatusArchived:
		return true
	}
	return false
}
