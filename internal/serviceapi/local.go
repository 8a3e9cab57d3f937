package serviceapi

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"streamwsm/internal/bus"
	"streamwsm/internal/config"
	"streamwsm/internal/gitx"
	"streamwsm/internal/hsm"
	"streamwsm/internal/model"
	"streamwsm/internal/reconcile"
	"streamwsm/internal/retire"
	"streamwsm/internal/scanner"
	"streamwsm/internal/store"
)

// LocalCore wires the whole stack against a ledger opened in this process.
type LocalCore struct {
	store     *store.Store
	git       *gitx.Introspector
	scanner   *scanner.Scanner
	engine    *reconcile.Engine
	retire    *retire.Service
	publisher *bus.Publisher
	logger    *log.Logger
}

func NewLocalCore(cfg config.Config, logger *log.Logger) (*LocalCore, error) {
	if logger == nil {
		logger = log.Default()
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	git := gitx.NewIntrospector(cfg.Project.Root, cfg.Project.MainBranch, logger)
	workspace := gitx.NewWorkspace(cfg.Project.Root, logger)

	core := &LocalCore{
		store:   st,
		git:     git,
		scanner: scanner.New(st, git, cfg.Scan.CommitLimit, cfg.Scan.WindowDays, logger),
		engine:  reconcile.New(st, git, cfg.Project.WorktreeRoot, logger),
		retire:  retire.NewService(st, git, workspace, cfg, logger),
		logger:  logger,
	}
	if strings.TrimSpace(cfg.Bus.RedisAddr) != "" {
		publisher, err := bus.NewPublisher(st, cfg.Bus.RedisAddr, cfg.Bus.Stream, logger)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("bus publisher: %w", err)
		}
		core.publisher = publisher
	}
	return core, nil
}

func (l *LocalCore) Shutdown() {
	if l == nil {
		return
	}
	if l.publisher != nil {
		_ = l.publisher.Close()
	}
	_ = l.store.Close()
}

// Store exposes the ledger for in-process workers.
func (l *LocalCore) Store() *store.Store { return l.store }

func (l *LocalCore) CreateStream(ctx context.Context, stream model.Stream) (model.Stream, error) {
	created, err := l.store.InsertStream(stream)
	if err != nil {
		return model.Stream{}, err
	}
	if err := l.store.AddHistoryEvent(model.HistoryEvent{
		StreamID:  created.ID,
		EventType: model.EventCreated,
		NewValue:  string(created.Status),
	}); err != nil {
		return model.Stream{}, err
	}
	l.stage(model.StreamEvent{
		EventType: model.EventCreated,
		StreamID:  created.ID,
		NewValue:  string(created.Status),
	})
	return created, nil
}

func (l *LocalCore) ListStreams(ctx context.Context, filter model.StreamFilter) ([]model.Stream, error) {
	return l.store.ListStreams(filter)
}

func (l *LocalCore) GetStream(ctx context.Context, id string) (model.Stream, error) {
	return l.store.GetStream(id)
}

// UpdateStream applies a partial update and reports which fields actually
// changed. A status change leaves a history event and a bus event behind.
func (l *LocalCore) UpdateStream(ctx context.Context, id string, update model.StreamUpdate) (UpdateOutcome, error) {
	before, err := l.store.GetStream(id)
	if err != nil {
		return UpdateOutcome{}, err
	}
	after, err := l.store.UpdateStream(id, update)
	if err != nil {
		return UpdateOutcome{}, err
	}

	changes := diffStreams(before, after)
	if before.Status != after.Status {
		if hsm.TerminalStatus(before.Status) {
			l.logger.Printf("serviceapi: stream %s reopened from terminal status %s as %s", id, before.Status, after.Status)
		} else if !hsm.CanTransitionStream(before.Status, after.Status) {
			l.logger.Printf("serviceapi: stream %s walked %s -> %s against the usual order", id, before.Status, after.Status)
		}
		eventType := model.EventStatusChanged
		if after.Status == model.StreamStatusCompleted {
			eventType = model.EventCompleted
		}
		if err := l.store.AddHistoryEvent(model.HistoryEvent{
			StreamID:  id,
			EventType: eventType,
			OldValue:  string(before.Status),
			NewValue:  string(after.Status),
		}); err != nil {
			return UpdateOutcome{}, err
		}
		l.stage(model.StreamEvent{
			EventType: eventType,
			StreamID:  id,
			OldValue:  string(before.Status),
			NewValue:  string(after.Status),
		})
	} else if before.Progress != after.Progress {
		if err := l.store.AddHistoryEvent(model.HistoryEvent{
			StreamID:  id,
			EventType: model.EventProgressUpdated,
			OldValue:  strconv.Itoa(before.Progress),
			NewValue:  strconv.Itoa(after.Progress),
		}); err != nil {
			return UpdateOutcome{}, err
		}
	}
	return UpdateOutcome{Stream: after, Changes: changes}, nil
}

func (l *LocalCore) CompleteStream(ctx context.Context, id string) (model.Stream, error) {
	before, err := l.store.GetStream(id)
	if err != nil {
		return model.Stream{}, err
	}
	completed, err := l.store.CompleteStream(id)
	if err != nil {
		return model.Stream{}, err
	}
	if before.Status != model.StreamStatusCompleted {
		if err := l.store.AddHistoryEvent(model.HistoryEvent{
			StreamID:  id,
			EventType: model.EventCompleted,
			OldValue:  string(before.Status),
			NewValue:  string(model.StreamStatusCompleted),
		}); err != nil {
			return model.Stream{}, err
		}
		l.stage(model.StreamEvent{
			EventType: model.EventCompleted,
			StreamID:  id,
			OldValue:  string(before.Status),
			NewValue:  string(model.StreamStatusCompleted),
		})
	}
	return completed, nil
}

func (l *LocalCore) StreamHistory(ctx context.Context, id string) ([]model.HistoryEvent, error) {
	if _, err := l.store.GetStream(id); err != nil {
		return nil, err
	}
	return l.store.ListHistoryEvents(id)
}

// ArchiveStream retires a completed stream and then deletes its ledger row,
// partial retirement failure or not. The archive report is the permanent
// record from here on.
func (l *LocalCore) ArchiveStream(ctx context.Context, id string, req RetireRequest) (RetireResult, error) {
	stream, err := l.store.GetStream(id)
	if err != nil {
		return RetireResult{}, err
	}
	if stream.Status != model.StreamStatusCompleted {
		return RetireResult{}, &model.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("stream is %s, archive requires completed", stream.Status),
		}
	}

	result := l.retire.Retire(ctx, stream, req)
	if err := l.store.DeleteStream(id); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("delete ledger row: %v", err))
		result.Success = false
	}
	l.stage(model.StreamEvent{
		EventType: model.EventArchived,
		StreamID:  id,
		OldValue:  string(model.StreamStatusCompleted),
		NewValue:  string(model.StreamStatusArchived),
	})
	return result, nil
}

// ArchiveBulk never aborts early: each id gets its own outcome.
func (l *LocalCore) ArchiveBulk(ctx context.Context, ids []string, req RetireRequest) []BulkArchiveResult {
	results := make([]BulkArchiveResult, 0, len(ids))
	for _, id := range ids {
		entry := BulkArchiveResult{StreamID: id}
		result, err := l.ArchiveStream(ctx, id, req)
		if err != nil {
			entry.Err = err.Error()
		} else {
			entry.Result = result
		}
		results = append(results, entry)
	}
	return results
}

func (l *LocalCore) Stats(ctx context.Context) (model.Stats, error) {
	return l.store.Stats()
}

func (l *LocalCore) Scan(ctx context.Context) (ScanResult, error) {
	return l.scanner.ScanAll(ctx)
}

func (l *LocalCore) Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error) {
	return l.engine.Reconcile(ctx, opts)
}

func (l *LocalCore) ProcessBusOnce(ctx context.Context, limit int) (int, int, error) {
	if l.publisher == nil {
		return 0, 0, nil
	}
	return l.publisher.ProcessOnce(ctx, limit)
}

func (l *LocalCore) BusHealth(ctx context.Context) error {
	if l.publisher == nil {
		return nil
	}
	if !l.publisher.Healthy(ctx) {
		return fmt.Errorf("redis is not answering")
	}
	return nil
}

func (l *LocalCore) OutboxStats() (model.OutboxStats, error) {
	return l.store.OutboxStats()
}

func (l *LocalCore) stage(event model.StreamEvent) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Stage(event); err != nil {
		l.logger.Printf("serviceapi: stage %s event for %s: %v", event.EventType, event.StreamID, err)
	}
}

func diffStreams(before model.Stream, after model.Stream) map[string][]string {
	changes := map[string][]string{}
	record := func(field string, old string, now string) {
		if old != now {
			changes[field] = []string{old, now}
		}
	}
	record("title", before.Title, after.Title)
	record("status", string(before.Status), string(after.Status))
	record("priority", string(before.Priority), string(after.Priority))
	record("progress", strconv.Itoa(before.Progress), strconv.Itoa(after.Progress))
	record("blocked_by", before.BlockedBy, after.BlockedBy)
	record("worktree_path", before.WorktreePath, after.WorktreePath)
	record("branch", before.Branch, after.Branch)
	if before.CurrentPhase != nil || after.CurrentPhase != nil {
		old, now := "", ""
		if before.CurrentPhase != nil {
			old = strconv.Itoa(*before.CurrentPhase)
		}
		if after.CurrentPhase != nil {
			now = strconv.Itoa(*after.CurrentPhase)
		}
		record("current_phase", old, now)
	}
	return changes
}
