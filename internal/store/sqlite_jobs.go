package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v3"

	"streamwsm/internal/model"
)

// EnqueueSummaryJob records a retirement summary job. The job carries a copy
// of the stream metadata because the stream row is deleted before any worker
// runs.
func (s *Store) EnqueueSummaryJob(job model.SummaryJob) (model.SummaryJob, error) {
	if strings.TrimSpace(job.JobID) == "" {
		job.JobID = "job-" + strings.ToLower(shortuuid.New()[:8])
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = model.DefaultJobMaxAttempts
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO summary_jobs
  (job_id, stream_id, title, branch, category, worktree_path, user_summary,
   archive_path, status, attempts, max_attempts, error_message, created_at,
   started_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.StreamID, job.Title, job.Branch, string(job.Category),
		job.WorktreePath, job.UserSummary, job.ArchivePath, string(job.Status),
		job.Attempts, job.MaxAttempts, job.ErrorMessage, formatTime(job.CreatedAt),
		formatTimePtr(job.StartedAt), formatTimePtr(job.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.SummaryJob{}, &model.ConflictError{Entity: "summary job", ID: job.JobID}
		}
		return model.SummaryJob{}, fmt.Errorf("enqueue summary job for %s: %w", job.StreamID, err)
	}
	return job, nil
}

// ClaimPendingSummaryJob atomically flips the oldest pending job to running
// and bumps its attempt counter. Returns (zero, false, nil) when the queue is
// empty.
func (s *Store) ClaimPendingSummaryJob() (model.SummaryJob, bool, error) {
	now := formatTime(time.Now().UTC())
	row := s.db.QueryRow(
		`UPDATE summary_jobs
SET status=?, attempts=attempts+1, started_at=?
WHERE job_id = (
  SELECT job_id FROM summary_jobs
  WHERE status=? AND attempts < max_attempts
  ORDER BY created_at LIMIT 1)
RETURNING job_id, stream_id, title, branch, category, worktree_path,
  user_summary, archive_path, status, attempts, max_attempts, error_message,
  created_at, started_at, completed_at`,
		string(model.JobStatusRunning), now, string(model.JobStatusPending))
	job, err := scanSummaryJob(row)
	if err == sql.ErrNoRows {
		return model.SummaryJob{}, false, nil
	}
	if err != nil {
		return model.SummaryJob{}, false, fmt.Errorf("claim summary job: %w", err)
	}
	return job, true, nil
}

func (s *Store) MarkSummaryJobDone(jobID string) error {
	return s.finishSummaryJob(jobID, model.JobStatusDone, "")
}

// MarkSummaryJobFailed records the failure; the job goes back to pending
// until its attempts are exhausted, then sticks at failed.
func (s *Store) MarkSummaryJobFailed(jobID string, cause string) error {
	result, err := s.db.Exec(
		`UPDATE summary_jobs
SET status = CASE WHEN attempts >= max_attempts THEN ? ELSE ? END,
    error_message=?,
    completed_at = CASE WHEN attempts >= max_attempts THEN ? ELSE NULL END
WHERE job_id=?`,
		string(model.JobStatusFailed), string(model.JobStatusPending),
		cause, formatTime(time.Now().UTC()), jobID)
	if err != nil {
		return fmt.Errorf("fail summary job %s: %w", jobID, err)
	}
	return requireAffected(result, "summary job", jobID)
}

func (s *Store) finishSummaryJob(jobID string, status model.SummaryJobStatus, cause string) error {
	result, err := s.db.Exec(
		`UPDATE summary_jobs SET status=?, error_message=?, completed_at=? WHERE job_id=?`,
		string(status), cause, formatTime(time.Now().UTC()), jobID)
	if err != nil {
		return fmt.Errorf("finish summary job %s: %w", jobID, err)
	}
	return requireAffected(result, "summary job", jobID)
}

func (s *Store) GetSummaryJob(jobID string) (model.SummaryJob, error) {
	row := s.db.QueryRow(
		`SELECT job_id, stream_id, title, branch, category, worktree_path,
  user_summary, archive_path, status, attempts, max_attempts, error_message,
  created_at, started_at, completed_at
FROM summary_jobs WHERE job_id=?`, jobID)
	job, err := scanSummaryJob(row)
	if err == sql.ErrNoRows {
		return model.SummaryJob{}, &model.NotFoundError{Entity: "summary job", ID: jobID}
	}
	if err != nil {
		return model.SummaryJob{}, fmt.Errorf("get summary job %s: %w", jobID, err)
	}
	return job, nil
}

func scanSummaryJob(row rowScanner) (model.SummaryJob, error) {
	var job model.SummaryJob
	var createdAt string
	var startedAt, completedAt sql.NullString
	err := row.Scan(
		&job.JobID, &job.StreamID, &job.Title, &job.Branch, &job.Category,
		&job.WorktreePath, &job.UserSummary, &job.ArchivePath, &job.Status,
		&job.Attempts, &job.MaxAttempts, &job.ErrorMessage,
		&createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return model.SummaryJob{}, err
	}
	job.CreatedAt = parseTime(createdAt)
	job.StartedAt = parseTimePtr(startedAt)
	job.CompletedAt = parseTimePtr(completedAt)
	return job, nil
}

// EnqueueOutbox stages a lifecycle event for publication in the same database
// as the mutation that produced it.
func (s *Store) EnqueueOutbox(msg model.OutboxMessage) (model.OutboxMessage, error) {
	if strings.TrimSpace(msg.MessageID) == "" {
		msg.MessageID = "msg-" + strings.ToLower(shortuuid.New()[:10])
	}
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO event_outbox (message_id, topic, message_key, payload_json, status, error_text, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.Topic, msg.MessageKey, msg.PayloadJSON,
		string(msg.Status), msg.ErrorText, formatTime(msg.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return model.OutboxMessage{}, &model.ConflictError{Entity: "outbox message", ID: msg.MessageID}
		}
		return model.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}
	return msg, nil
}

func (s *Store) ListPendingOutbox(limit int) ([]model.OutboxMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT message_id, topic, message_key, payload_json, status, error_text, created_at
FROM event_outbox WHERE status=? ORDER BY created_at, message_id LIMIT ?`,
		string(model.OutboxStatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending outbox: %w", err)
	}
	defer rows.Close()

	out := []model.OutboxMessage{}
	for rows.Next() {
		var msg model.OutboxMessage
		var createdAt string
		if err := rows.Scan(&msg.MessageID, &msg.Topic, &msg.MessageKey,
			&msg.PayloadJSON, &msg.Status, &msg.ErrorText, &createdAt); err != nil {
			return nil, err
		}
		msg.CreatedAt = parseTime(createdAt)
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *Store) MarkOutboxSent(messageID string) error {
	result, err := s.db.Exec(
		`UPDATE event_outbox SET status=?, error_text='' WHERE message_id=?`,
		string(model.OutboxStatusSent), messageID)
	if err != nil {
		return fmt.Errorf("mark outbox sent %s: %w", messageID, err)
	}
	return requireAffected(result, "outbox message", messageID)
}

func (s *Store) MarkOutboxFailed(messageID string, cause string) error {
	result, err := s.db.Exec(
		`UPDATE event_outbox SET status=?, error_text=? WHERE message_id=?`,
		string(model.OutboxStatusFailed), cause, messageID)
	if err != nil {
		return fmt.Errorf("mark outbox failed %s: %w", messageID, err)
	}
	return requireAffected(result, "outbox message", messageID)
}

func (s *Store) OutboxStats() (model.OutboxStats, error) {
	stats := model.OutboxStats{}
	var oldest sql.NullString
	row := s.db.QueryRow(`
SELECT
  COUNT(CASE WHEN status = 'pending' THEN 1 END),
  COUNT(CASE WHEN status = 'sent' THEN 1 END),
  COUNT(CASE WHEN status = 'failed' THEN 1 END),
  MIN(CASE WHEN status = 'pending' THEN created_at END)
FROM event_outbox`)
	if err := row.Scan(&stats.PendingCount, &stats.SentCount, &stats.FailedCount, &oldest); err != nil {
		return stats, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAgeSec = int64(time.Since(parseTime(oldest.String)).Seconds())
	}
	return stats, nil
}

func requireAffected(result sql.Result, entity string, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &model.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}
