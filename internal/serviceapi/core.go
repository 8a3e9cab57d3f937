package serviceapi

import (
	"context"

	"streamwsm/internal/model"
	"streamwsm/internal/reconcile"
	"streamwsm/internal/retire"
	"streamwsm/internal/scanner"
)

type RetireRequest = retire.Request
type RetireResult = retire.Result
type ReconcileOptions = reconcile.Options
type ReconcileReport = reconcile.Report
type ScanResult = scanner.Result

// UpdateOutcome pairs the updated stream with a field diff, keyed by field
// name with the old and new rendering.
type UpdateOutcome struct {
	Stream  model.Stream        `json:"stream"`
	Changes map[string][]string `json:"changes"`
}

// BulkArchiveResult carries one id's retirement outcome; Err is set when the
// stream could not be retired at all (unknown id, wrong status).
type BulkArchiveResult struct {
	StreamID string       `json:"stream_id"`
	Result   RetireResult `json:"result"`
	Err      string       `json:"error,omitempty"`
}

// Core is the service surface shared by in-process and remote callers. The
// CLI talks to a discovered server through RemoteCore when one is live and
// falls back to a LocalCore otherwise.
type Core interface {
	Shutdown()

	CreateStream(ctx context.Context, stream model.Stream) (model.Stream, error)
	ListStreams(ctx context.Context, filter model.StreamFilter) ([]model.Stream, error)
	GetStream(ctx context.Context, id string) (model.Stream, error)
	UpdateStream(ctx context.Context, id string, update model.StreamUpdate) (UpdateOutcome, error)
	CompleteStream(ctx context.Context, id string) (model.Stream, error)
	StreamHistory(ctx context.Context, id string) ([]model.HistoryEvent, error)

	ArchiveStream(ctx context.Context, id string, req RetireRequest) (RetireResult, error)
	ArchiveBulk(ctx context.Context, ids []string, req RetireRequest) []BulkArchiveResult

	Stats(ctx context.Context) (model.Stats, error)
	Scan(ctx context.Context) (ScanResult, error)
	Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error)

	ProcessBusOnce(ctx context.Context, limit int) (sent int, failed int, err error)
	BusHealth(ctx context.Context) error
	OutboxStats() (model.OutboxStats, error)
}
