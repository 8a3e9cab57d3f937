package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lithammer/shortuuid/v3"

	"streamwsm/internal/model"
)

// InsertStream creates a new stream row. Missing id/status/timestamps are
// filled with defaults; a duplicate id surfaces as *model.ConflictError.
func (s *Store) InsertStream(stream model.Stream) (model.Stream, error) {
	if strings.TrimSpace(stream.ID) == "" {
		stream.ID = "strm-" + strings.ToLower(shortuuid.New()[:8])
	}
	if stream.Status == "" {
		stream.Status = model.StreamStatusInitializing
	}
	if stream.Category == "" {
		stream.Category = model.CategoryBackend
	}
	if stream.Priority == "" {
		stream.Priority = model.PriorityMedium
	}
	if stream.Progress < 0 || stream.Progress > 100 {
		return model.Stream{}, &model.ValidationError{Field: "progress", Reason: "must be between 0 and 100"}
	}
	if !model.ValidCategory(stream.Category) {
		return model.Stream{}, &model.ValidationError{Field: "category", Reason: fmt.Sprintf("unrecognized value %q", stream.Category)}
	}
	if !model.ValidPriority(stream.Priority) {
		return model.Stream{}, &model.ValidationError{Field: "priority", Reason: fmt.Sprintf("unrecognized value %q", stream.Priority)}
	}
	now := time.Now().UTC()
	if stream.CreatedAt.IsZero() {
		stream.CreatedAt = now
	}
	stream.UpdatedAt = now

	phases, err := json.Marshal(stream.Phases)
	if err != nil {
		return model.Stream{}, fmt.Errorf("marshal phases: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO streams
  (id, stream_number, title, category, priority, status, progress, current_phase,
   worktree_path, branch, blocked_by, phases_json, created_at, updated_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stream.ID, stream.StreamNumber, stream.Title, string(stream.Category),
		string(stream.Priority), string(stream.Status), stream.Progress, stream.CurrentPhase,
		stream.WorktreePath, stream.Branch, stream.BlockedBy, string(phases),
		formatTime(stream.CreatedAt), formatTime(stream.UpdatedAt), formatTimePtr(stream.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Stream{}, &model.ConflictError{Entity: "stream", ID: stream.ID}
		}
		return model.Stream{}, fmt.Errorf("insert stream %s: %w", stream.ID, err)
	}
	return stream, nil
}

// UpdateStream applies only the provided fields and stamps updated_at. An
// empty update is a true no-op: nothing is written, updated_at included.
// Setting status=completed always stamps completed_at in the same statement.
func (s *Store) UpdateStream(id string, update model.StreamUpdate) (model.Stream, error) {
	if update.Empty() {
		return s.GetStream(id)
	}
	if update.Progress != nil && (*update.Progress < 0 || *update.Progress > 100) {
		return model.Stream{}, &model.ValidationError{Field: "progress", Reason: "must be between 0 and 100"}
	}
	if update.Status != nil && !model.ValidStatus(*update.Status) {
		return model.Stream{}, &model.ValidationError{Field: "status", Reason: fmt.Sprintf("unrecognized value %q", *update.Status)}
	}
	if update.Priority != nil && !model.ValidPriority(*update.Priority) {
		return model.Stream{}, &model.ValidationError{Field: "priority", Reason: fmt.Sprintf("unrecognized value %q", *update.Priority)}
	}

	now := formatTime(time.Now().UTC())
	assignments := []string{"updated_at=?"}
	args := []any{now}
	appendSet := func(column string, value any) {
		assignments = append(assignments, column+"=?")
		args = append(args, value)
	}
	if update.Title != nil {
		appendSet("title", *update.Title)
	}
	if update.Status != nil {
		appendSet("status", string(*update.Status))
		if *update.Status == model.StreamStatusCompleted {
			assignments = append(assignments, "completed_at=COALESCE(completed_at, ?)")
			args = append(args, now)
		}
	}
	if update.Priority != nil {
		appendSet("priority", string(*update.Priority))
	}
	if update.Progress != nil {
		appendSet("progress", *update.Progress)
	}
	if update.CurrentPhase != nil {
		appendSet("current_phase", *update.CurrentPhase)
	}
	if update.BlockedBy != nil {
		appendSet("blocked_by", *update.BlockedBy)
	}
	if update.WorktreePath != nil {
		appendSet("worktree_path", *update.WorktreePath)
	}
	if update.Branch != nil {
		appendSet("branch", *update.Branch)
	}
	args = append(args, id)

	result, err := s.db.Exec(
		"UPDATE streams SET "+strings.Join(assignments, ", ")+" WHERE id=?", args...)
	if err != nil {
		return model.Stream{}, fmt.Errorf("update stream %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return model.Stream{}, err
	}
	if affected == 0 {
		return model.Stream{}, &model.NotFoundError{Entity: "stream", ID: id}
	}
	return s.GetStream(id)
}

// CompleteStream marks a stream completed, stamping completed_at and
// updated_at in one statement. Calling it again leaves completed_at alone.
func (s *Store) CompleteStream(id string) (model.Stream, error) {
	now := formatTime(time.Now().UTC())
	result, err := s.db.Exec(
		`UPDATE streams
SET status=?, completed_at=COALESCE(completed_at, ?), updated_at=?
WHERE id=?`,
		string(model.StreamStatusCompleted), now, now, id)
	if err != nil {
		return model.Stream{}, fmt.Errorf("complete stream %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return model.Stream{}, err
	}
	if affected == 0 {
		return model.Stream{}, &model.NotFoundError{Entity: "stream", ID: id}
	}
	return s.GetStream(id)
}

const streamColumns = `id, stream_number, title, category, priority, status, progress,
current_phase, worktree_path, branch, blocked_by, phases_json, created_at, updated_at, completed_at`

func (s *Store) GetStream(id string) (model.Stream, error) {
	row := s.db.QueryRow("SELECT "+streamColumns+" FROM streams WHERE id=?", id)
	stream, err := scanStream(row)
	if err == sql.ErrNoRows {
		return model.Stream{}, &model.NotFoundError{Entity: "stream", ID: id}
	}
	if err != nil {
		return model.Stream{}, fmt.Errorf("get stream %s: %w", id, err)
	}
	return stream, nil
}

// ListStreams returns streams ordered by updated_at descending, each with a
// recent-activity summary joined from its newest commit. The synthetic main
// stream is not listed.
func (s *Store) ListStreams(filter model.StreamFilter) ([]model.Stream, error) {
	query := `
SELECT s.id, s.stream_number, s.title, s.category, s.priority, s.status, s.progress,
       s.current_phase, s.worktree_path, s.branch, s.blocked_by, s.phases_json,
       s.created_at, s.updated_at, s.completed_at,
       c.message, c.author, c.files_changed, c.timestamp
FROM streams s
LEFT JOIN commits c ON c.id = (
  SELECT c2.id FROM commits c2 WHERE c2.stream_id = s.id
  ORDER BY c2.timestamp DESC, c2.id DESC LIMIT 1)
WHERE s.id != ?`
	args := []any{model.MainStreamID}
	if filter.Status != "" {
		query += " AND s.status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Category != "" {
		query += " AND s.category = ?"
		args = append(args, string(filter.Category))
	}
	if filter.Priority != "" {
		query += " AND s.priority = ?"
		args = append(args, string(filter.Priority))
	}
	query += " ORDER BY s.updated_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	out := []model.Stream{}
	for rows.Next() {
		var stream model.Stream
		var currentPhase sql.NullInt64
		var phasesJSON string
		var createdAt, updatedAt string
		var completedAt sql.NullString
		var message, author sql.NullString
		var filesChanged sql.NullInt64
		var commitTime sql.NullString
		err := rows.Scan(
			&stream.ID, &stream.StreamNumber, &stream.Title, &stream.Category,
			&stream.Priority, &stream.Status, &stream.Progress, &currentPhase,
			&stream.WorktreePath, &stream.Branch, &stream.BlockedBy, &phasesJSON,
			&createdAt, &updatedAt, &completedAt,
			&message, &author, &filesChanged, &commitTime,
		)
		if err != nil {
			return nil, fmt.Errorf("scan stream row: %w", err)
		}
		hydrateStream(&stream, currentPhase, phasesJSON, createdAt, updatedAt, completedAt)
		if message.Valid {
			timestamp := parseTime(commitTime.String)
			stream.RecentActivity = &model.RecentActivity{
				Message:      message.String,
				Author:       author.String,
				FilesChanged: int(filesChanged.Int64),
				Timestamp:    timestamp,
				TimeAgo:      humanize.Time(timestamp),
			}
		}
		out = append(out, stream)
	}
	return out, rows.Err()
}

// DeleteStream removes the stream row; commits and history events cascade.
// This is the only way a stream record disappears and it is irreversible.
func (s *Store) DeleteStream(id string) error {
	result, err := s.db.Exec("DELETE FROM streams WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete stream %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &model.NotFoundError{Entity: "stream", ID: id}
	}
	return nil
}

// AddCommit inserts an observed commit. A duplicate commit_hash is a normal
// outcome, reported as such instead of an error so callers never have to
// string-match failure messages.
func (s *Store) AddCommit(commit model.Commit) (InsertOutcome, error) {
	_, err := s.db.Exec(
		`INSERT INTO commits (stream_id, commit_hash, message, author, files_changed, timestamp)
VALUES (?, ?, ?, ?, ?, ?)`,
		commit.StreamID, commit.CommitHash, commit.Message, commit.Author,
		commit.FilesChanged, formatTime(commit.Timestamp))
	if err != nil {
		if isUniqueViolation(err) {
			return InsertAlreadyExists, nil
		}
		return InsertFailed, fmt.Errorf("insert commit %s: %w", commit.CommitHash, err)
	}
	return Inserted, nil
}

type InsertOutcome int

const (
	Inserted InsertOutcome = iota
	InsertAlreadyExists
	InsertFailed
)

func (s *Store) ListCommits(streamID string) ([]model.Commit, error) {
	rows, err := s.db.Query(
		`SELECT stream_id, commit_hash, message, author, files_changed, timestamp
FROM commits WHERE stream_id=? ORDER BY timestamp DESC, id DESC`, streamID)
	if err != nil {
		return nil, fmt.Errorf("list commits for %s: %w", streamID, err)
	}
	defer rows.Close()

	out := []model.Commit{}
	for rows.Next() {
		var commit model.Commit
		var timestamp string
		if err := rows.Scan(&commit.StreamID, &commit.CommitHash, &commit.Message,
			&commit.Author, &commit.FilesChanged, &timestamp); err != nil {
			return nil, err
		}
		commit.Timestamp = parseTime(timestamp)
		out = append(out, commit)
	}
	return out, rows.Err()
}

func (s *Store) AddHistoryEvent(event model.HistoryEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO history_events (stream_id, event_type, old_value, new_value, timestamp)
VALUES (?, ?, ?, ?, ?)`,
		event.StreamID, string(event.EventType), event.OldValue, event.NewValue,
		formatTime(event.Timestamp))
	if err != nil {
		return fmt.Errorf("insert history event for %s: %w", event.StreamID, err)
	}
	return nil
}

func (s *Store) ListHistoryEvents(streamID string) ([]model.HistoryEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, stream_id, event_type, old_value, new_value, timestamp
FROM history_events WHERE stream_id=? ORDER BY id`, streamID)
	if err != nil {
		return nil, fmt.Errorf("list history for %s: %w", streamID, err)
	}
	defer rows.Close()

	out := []model.HistoryEvent{}
	for rows.Next() {
		var event model.HistoryEvent
		var timestamp string
		if err := rows.Scan(&event.ID, &event.StreamID, &event.EventType,
			&event.OldValue, &event.NewValue, &timestamp); err != nil {
			return nil, err
		}
		event.Timestamp = parseTime(timestamp)
		out = append(out, event)
	}
	return out, rows.Err()
}

// Stats counts the dashboard numbers: non-terminal streams by status,
// completions today, and commit volume.
func (s *Store) Stats() (model.Stats, error) {
	stats := model.Stats{}
	dayStart := formatTime(time.Now().UTC().Truncate(24 * time.Hour))

	row := s.db.QueryRow(`
SELECT
  COUNT(CASE WHEN status NOT IN ('completed', 'archived') THEN 1 END),
  COUNT(CASE WHEN status = 'active' THEN 1 END),
  COUNT(CASE WHEN status = 'blocked' THEN 1 END),
  COUNT(CASE WHEN status = 'paused' THEN 1 END),
  COUNT(CASE WHEN status = 'completed' AND completed_at >= ? THEN 1 END)
FROM streams WHERE id != ?`, dayStart, model.MainStreamID)
	if err := row.Scan(&stats.TotalStreams, &stats.Active, &stats.Blocked,
		&stats.Paused, &stats.CompletedToday); err != nil {
		return stats, fmt.Errorf("stream stats: %w", err)
	}

	row = s.db.QueryRow(
		`SELECT COUNT(*), COUNT(CASE WHEN timestamp >= ? THEN 1 END) FROM commits`, dayStart)
	if err := row.Scan(&stats.TotalCommits, &stats.CommitsToday); err != nil {
		return stats, fmt.Errorf("commit stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStream(row rowScanner) (model.Stream, error) {
	var stream model.Stream
	var currentPhase sql.NullInt64
	var phasesJSON string
	var createdAt, updatedAt string
	var completedAt sql.NullString
	err := row.Scan(
		&stream.ID, &stream.StreamNumber, &stream.Title, &stream.Category,
		&stream.Priority, &stream.Status, &stream.Progress, &currentPhase,
		&stream.WorktreePath, &stream.Branch, &stream.BlockedBy, &phasesJSON,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return model.Stream{}, err
	}
	hydrateStream(&stream, currentPhase, phasesJSON, createdAt, updatedAt, completedAt)
	return stream, nil
}

func hydrateStream(stream *model.Stream, currentPhase sql.NullInt64, phasesJSON string,
	createdAt string, updatedAt string, completedAt sql.NullString) {
	if currentPhase.Valid {
		phase := int(currentPhase.Int64)
		stream.CurrentPhase = &phase
	}
	if phasesJSON != "" {
		_ = json.Unmarshal([]byte(phasesJSON), &stream.Phases)
	}
	stream.CreatedAt = parseTime(createdAt)
	stream.UpdatedAt = parseTime(updatedAt)
	stream.CompletedAt = parseTimePtr(completedAt)
}
