package server

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"streamwsm/internal/model"
	"streamwsm/internal/serviceapi"
	"streamwsm/internal/store"
)

// Summarizer enriches a retired stream's archive report asynchronously.
// Implementations may call external services; the default one is static.
type Summarizer interface {
	Summarize(ctx context.Context, job model.SummaryJob) (string, error)
}

// StaticSummarizer renders a summary from the job metadata alone.
type StaticSummarizer struct{}

func (StaticSummarizer) Summarize(_ context.Context, job model.SummaryJob) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Stream %q (%s) on branch %s was retired.", job.Title, job.Category, job.Branch)
	if job.UserSummary != "" {
		fmt.Fprintf(&b, " Author notes: %s", job.UserSummary)
	}
	return b.String(), nil
}

type WorkerSnapshot struct {
	Running           bool              `json:"running"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	LastTickAt        *time.Time        `json:"last_tick_at,omitempty"`
	LastErrorAt       *time.Time        `json:"last_error_at,omitempty"`
	LastError         string            `json:"last_error,omitempty"`
	ConsecutiveErrors int               `json:"consecutive_errors"`
	EventsSent        int64             `json:"events_sent"`
	EventsFailed      int64             `json:"events_failed"`
	JobsDone          int64             `json:"jobs_done"`
	JobsFailed        int64             `json:"jobs_failed"`
	BusHealthy        bool              `json:"bus_healthy"`
	BusError          string            `json:"bus_error,omitempty"`
	Outbox            model.OutboxStats `json:"outbox"`
}

// Worker pumps the event outbox and runs pending summary jobs on a ticker.
type Worker struct {
	service     serviceapi.Core
	jobs        *store.Store
	summarizer  Summarizer
	projectRoot string
	interval    time.Duration
	batchSize   int
	logInterval time.Duration
	logger      *log.Logger

	mu       sync.RWMutex
	running  bool
	doneChan chan struct{}
	snapshot WorkerSnapshot
}

func NewWorker(service serviceapi.Core, jobs *store.Store, summarizer Summarizer,
	projectRoot string, interval time.Duration, batchSize int,
	logInterval time.Duration, logger *log.Logger) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if logInterval <= 0 {
		logInterval = 15 * time.Second
	}
	if summarizer == nil {
		summarizer = StaticSummarizer{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Worker{
		service:     service,
		jobs:        jobs,
		summarizer:  summarizer,
		projectRoot: projectRoot,
		interval:    interval,
		batchSize:   batchSize,
		logInterval: logInterval,
		logger:      logger,
		snapshot:    WorkerSnapshot{BusHealthy: true},
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	now := time.Now().UTC()
	w.snapshot.Running = true
	w.snapshot.StartedAt = timePtr(now)
	w.doneChan = make(chan struct{})
	done := w.doneChan
	w.mu.Unlock()

	go func() {
		defer close(done)
		w.loop(ctx)
		w.mu.Lock()
		w.running = false
		w.snapshot.Running = false
		w.mu.Unlock()
	}()
}

func (w *Worker) Wait(timeout time.Duration) bool {
	w.mu.RLock()
	done := w.doneChan
	w.mu.RUnlock()
	if done == nil {
		return true
	}
	if timeout <= 0 {
		<-done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (w *Worker) Snapshot() WorkerSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	copySnapshot := w.snapshot
	copySnapshot.StartedAt = cloneTimePtr(w.snapshot.StartedAt)
	copySnapshot.LastTickAt = cloneTimePtr(w.snapshot.LastTickAt)
	copySnapshot.LastErrorAt = cloneTimePtr(w.snapshot.LastErrorAt)
	return copySnapshot
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	logTicker := time.NewTicker(w.logInterval)
	defer logTicker.Stop()

	w.runIteration(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runIteration(ctx)
		case <-logTicker.C:
			w.logSnapshot()
		}
	}
}

func (w *Worker) runIteration(ctx context.Context) {
	now := time.Now().UTC()

	sent, failed, pumpErr := w.service.ProcessBusOnce(ctx, w.batchSize)
	if pumpErr != nil && ctx.Err() != nil {
		return
	}
	jobsDone, jobsFailed, jobErr := w.runSummaryJobs(ctx)
	busErr := w.service.BusHealth(ctx)
	outbox, outboxErr := w.service.OutboxStats()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.snapshot.LastTickAt = timePtr(now)
	w.snapshot.EventsSent += int64(sent)
	w.snapshot.EventsFailed += int64(failed)
	w.snapshot.JobsDone += int64(jobsDone)
	w.snapshot.JobsFailed += int64(jobsFailed)

	firstErr := pumpErr
	if firstErr == nil {
		firstErr = jobErr
	}
	if firstErr == nil {
		firstErr = outboxErr
	}
	if firstErr != nil {
		w.snapshot.ConsecutiveErrors++
		w.snapshot.LastErrorAt = timePtr(now)
		w.snapshot.LastError = strings.TrimSpace(firstErr.Error())
	} else {
		w.snapshot.ConsecutiveErrors = 0
	}
	if busErr != nil {
		w.snapshot.BusHealthy = false
		w.snapshot.BusError = strings.TrimSpace(busErr.Error())
	} else {
		w.snapshot.BusHealthy = true
		w.snapshot.BusError = ""
	}
	if outboxErr == nil {
		w.snapshot.Outbox = outbox
	}
}

// runSummaryJobs drains pending jobs, appending each generated summary to
// the stream's archive report. A job failing goes back to pending until its
// attempts run out.
func (w *Worker) runSummaryJobs(ctx context.Context) (done int, failed int, err error) {
	if w.jobs == nil {
		return 0, 0, nil
	}
	for i := 0; i < w.batchSize; i++ {
		if ctx.Err() != nil {
			return done, failed, nil
		}
		job, ok, claimErr := w.jobs.ClaimPendingSummaryJob()
		if claimErr != nil {
			return done, failed, claimErr
		}
		if !ok {
			return done, failed, nil
		}

		summary, sumErr := w.summarizer.Summarize(ctx, job)
		if sumErr == nil {
			sumErr = w.appendToArchive(job.ArchivePath, summary)
		}
		if sumErr != nil {
			failed++
			if markErr := w.jobs.MarkSummaryJobFailed(job.JobID, sumErr.Error()); markErr != nil {
				return done, failed, markErr
			}
			continue
		}
		done++
		if markErr := w.jobs.MarkSummaryJobDone(job.JobID); markErr != nil {
			return done, failed, markErr
		}
	}
	return done, failed, nil
}

func (w *Worker) appendToArchive(archivePath string, summary string) error {
	if archivePath == "" {
		return fmt.Errorf("job has no archive path")
	}
	full := filepath.Join(w.projectRoot, archivePath)
	f, err := os.OpenFile(full, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "\n## Generated Summary\n\n%s\n", summary)
	return err
}

func (w *Worker) logSnapshot() {
	snapshot := w.Snapshot()
	w.logger.Printf(
		"worker: bus_healthy=%t pending=%d failed=%d events_sent=%d jobs_done=%d jobs_failed=%d errors=%d",
		snapshot.BusHealthy,
		snapshot.Outbox.PendingCount,
		snapshot.Outbox.FailedCount,
		snapshot.EventsSent,
		snapshot.JobsDone,
		snapshot.JobsFailed,
		snapshot.ConsecutiveErrors,
	)
}

func timePtr(value time.Time) *time.Time {
	clone := value
	return &clone
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
