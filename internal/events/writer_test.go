package events_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"taskline/internal/db"
	"taskline/internal/events"
	"taskline/internal/migrate"
)

func newTestWriter(t *testing.T) events.Writer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return events.Writer{DB: conn, Now: func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}}
}

func TestAppendAndLatest(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	if err := w.Append(ctx, "task.claimed", 1, events.EventPayload{"worker": 0}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(ctx, "task.finished", 1, events.EventPayload{"status": "done"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := w.Latest(ctx, 10, "")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}
	for _, e := range got {
		if e.ID == "" || e.TS != "2024-01-01T00:00:00Z" {
			t.Fatalf("event = %+v", e)
		}
		if e.TaskID == nil || *e.TaskID != 1 {
			t.Fatalf("task id = %v", e.TaskID)
		}
	}
}

func TestLatestTypeFilter(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()
	_ = w.Append(ctx, "task.claimed", 1, nil)
	_ = w.Append(ctx, "task.finished", 1, nil)

	got, err := w.Latest(ctx, 10, "task.finished")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 1 || got[0].Type != "task.finished" {
		t.Fatalf("events = %+v", got)
	}
	if !strings.HasPrefix(got[0].Payload, "{") {
		t.Fatalf("payload = %q", got[0].Payload)
	}
}

func TestLatestOrdersSameSecondByInsertion(t *testing.T) {
	// Fixed clock: every event shares one timestamp, so ordering falls
	// back to insertion order, newest first.
	w := newTestWriter(t)
	ctx := context.Background()
	for _, typ := range []string{"first", "second", "third"} {
		if err := w.Append(ctx, typ, 1, nil); err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
	}
	got, err := w.Latest(ctx, 10, "")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	want := []string{"third", "second", "first"}
	if len(got) != len(want) {
		t.Fatalf("events = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Type != want[i] {
			t.Fatalf("order = [%s %s %s], want %v", got[0].Type, got[1].Type, got[2].Type, want)
		}
	}
}

func TestAppendWithoutTask(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()
	if err := w.Append(ctx, "queue.started", 0, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := w.Latest(ctx, 1, "")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got[0].TaskID != nil {
		t.Fatalf("task id = %v, want nil", got[0].TaskID)
	}
}
