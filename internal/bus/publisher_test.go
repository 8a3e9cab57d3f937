package bus

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"streamwsm/internal/model"
	"streamwsm/internal/store"
)

func startTestRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(server.Close)
	return server
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "streams.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStageAndProcessOnce(t *testing.T) {
	server := startTestRedis(t)
	st := newTestStore(t)
	ctx := context.Background()

	pub, err := NewPublisher(st, server.Addr(), "", nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	events := []model.StreamEvent{
		{EventType: model.EventCreated, StreamID: "strm-1"},
		{EventType: model.EventStatusChanged, StreamID: "strm-1", OldValue: "initializing", NewValue: "active"},
	}
	for _, event := range events {
		if err := pub.Stage(event); err != nil {
			t.Fatalf("stage: %v", err)
		}
	}

	sent, failed, err := pub.ProcessOnce(ctx, 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if sent != 2 || failed != 0 {
		t.Fatalf("sent=%d failed=%d", sent, failed)
	}

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()
	length, err := client.XLen(ctx, model.StreamEventsTopic).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if length != 2 {
		t.Errorf("redis stream length = %d, want 2", length)
	}

	stats, err := st.OutboxStats()
	if err != nil {
		t.Fatalf("outbox stats: %v", err)
	}
	if stats.SentCount != 2 || stats.PendingCount != 0 {
		t.Errorf("outbox stats = %+v", stats)
	}

	// Second pass has nothing left to do.
	sent, failed, err = pub.ProcessOnce(ctx, 10)
	if err != nil || sent != 0 || failed != 0 {
		t.Errorf("second pass: sent=%d failed=%d err=%v", sent, failed, err)
	}
}

func TestStagePreservesEventPayload(t *testing.T) {
	server := startTestRedis(t)
	st := newTestStore(t)

	pub, err := NewPublisher(st, server.Addr(), "", nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	if err := pub.Stage(model.StreamEvent{
		EventType: model.EventArchived,
		StreamID:  "strm-arc",
		OldValue:  "completed",
		NewValue:  "archived",
	}); err != nil {
		t.Fatalf("stage: %v", err)
	}

	pending, err := st.ListPendingOutbox(10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %+v", pending)
	}
	staged := pending[0]
	if staged.Topic != model.StreamEventsTopic || staged.MessageKey != "strm-arc" {
		t.Errorf("staged = %+v", staged)
	}
	var event model.StreamEvent
	if err := json.Unmarshal([]byte(staged.PayloadJSON), &event); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if event.EventType != model.EventArchived || event.EventID == "" || event.OccurredAt.IsZero() {
		t.Errorf("event = %+v", event)
	}
}

func TestStageUsesConfiguredTopic(t *testing.T) {
	server := startTestRedis(t)
	st := newTestStore(t)
	ctx := context.Background()

	pub, err := NewPublisher(st, server.Addr(), "custom-events", nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	if err := pub.Stage(model.StreamEvent{EventType: model.EventCreated, StreamID: "strm-t"}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	pending, err := st.ListPendingOutbox(10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Topic != "custom-events" {
		t.Fatalf("staged = %+v, want topic custom-events", pending)
	}

	if _, _, err := pub.ProcessOnce(ctx, 10); err != nil {
		t.Fatalf("process: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()
	length, err := client.XLen(ctx, "custom-events").Result()
	if err != nil || length != 1 {
		t.Errorf("custom stream length = %d err = %v, want 1", length, err)
	}
}

func TestProcessOnceMarksFailures(t *testing.T) {
	server := startTestRedis(t)
	st := newTestStore(t)

	pub, err := NewPublisher(st, server.Addr(), "", nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	if err := pub.Stage(model.StreamEvent{EventType: model.EventCreated, StreamID: "strm-x"}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	server.Close()

	sent, failed, err := pub.ProcessOnce(context.Background(), 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if sent != 0 || failed != 1 {
		t.Fatalf("sent=%d failed=%d", sent, failed)
	}
	stats, err := st.OutboxStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.FailedCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHealthy(t *testing.T) {
	server := startTestRedis(t)
	st := newTestStore(t)

	pub, err := NewPublisher(st, server.Addr(), "", nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	ctx := context.Background()
	if !pub.Healthy(ctx) {
		t.Error("healthy redis reported unhealthy")
	}
	server.Close()
	if pub.Healthy(ctx) {
		t.Error("closed redis reported healthy")
	}
}
