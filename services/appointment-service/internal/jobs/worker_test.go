package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/storage/memory"
)

type fakeAssigner struct {
	from  []string
	err   error
	calls int
}

func (f *fakeAssigner) RetryPending(_ context.Context, fromDate string) (int, error) {
	f.calls++
	f.from = append(f.from, fromDate)
	return 1, f.err
}

func TestRunOnce(t *testing.T) {
	now := time.Date(2025, 11, 30, 23, 30, 0, 0, time.UTC)
	store := memory.New()
	ctx := context.Background()

	read := model.Notification{ID: "old", RecipientID: "u", CreatedAt: now.AddDate(0, -2, 0)}
	read.MarkRead(now.AddDate(0, 0, -31))
	fresh := model.Notification{ID: "fresh", RecipientID: "u", CreatedAt: now}
	fresh.MarkRead(now.AddDate(0, 0, -1))
	unread := model.Notification{ID: "unread", RecipientID: "u", CreatedAt: now.AddDate(-1, 0, 0)}
	for _, n := range []model.Notification{read, fresh, unread} {
		n := n
		if err := store.InsertNotification(ctx, &n); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	loc := time.FixedZone("UTC+2", 2*3600)
	assigner := &fakeAssigner{err: errors.New("db down")}
	w := NewWorker(assigner, store, nil, func() time.Time { return now }, WorkerConfig{
		Today: func(t time.Time) string { return t.In(loc).Format("2006-01-02") },
	})
	w.RunOnce(ctx)

	if assigner.calls != 1 || assigner.from[0] != "2025-12-01" {
		t.Fatalf("retry called with %v", assigner.from)
	}
	left, _ := store.ListNotifications(ctx, "u", false, 0)
	if len(left) != 2 {
		t.Fatalf("expected the expired notification removed even when retry fails, left %d", len(left))
	}
	for _, n := range left {
		if n.ID == "old" {
			t.Fatalf("expired notification survived")
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	assigner := &fakeAssigner{}
	w := NewWorker(assigner, nil, nil, nil, WorkerConfig{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if assigner.calls == 0 {
		t.Fatalf("worker never ticked")
	}
}
