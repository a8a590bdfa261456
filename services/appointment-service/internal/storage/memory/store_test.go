package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/storage"
)

func appt(id, date string) *model.Appointment {
	a := &model.Appointment{ID: id, Status: model.StatusPending}
	_ = a.SetSchedule(date, "10:00", 60)
	return a
}

func TestAdmitRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Admit(ctx, "2025-10-22", func(ctx context.Context, tx storage.Admission) error {
		if err := tx.Insert(ctx, appt("a1", "2025-10-22")); err != nil {
			return err
		}
		list, _ := tx.ListByDate(ctx, "2025-10-22")
		if len(list) != 1 {
			t.Fatalf("staged insert must be visible inside the admission, got %d", len(list))
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if _, err := s.Get(ctx, "a1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("insert must be rolled back, got %v", err)
	}
}

func TestUpdateVersionCheck(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Admit(ctx, "2025-10-22", func(ctx context.Context, tx storage.Admission) error {
		return tx.Insert(ctx, appt("a1", "2025-10-22"))
	})

	first, _ := s.Get(ctx, "a1")
	second, _ := s.Get(ctx, "a1")
	first.Status = model.StatusConfirmed
	if err := s.Update(ctx, &first); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if first.Version != 2 {
		t.Fatalf("expected version 2, got %d", first.Version)
	}
	second.Status = model.StatusCancelled
	if err := s.Update(ctx, &second); !errors.Is(err, model.ErrConcurrencyConflict) {
		t.Fatalf("stale update must conflict, got %v", err)
	}
}

func TestAdmitLockHonoursContext(t *testing.T) {
	s := New()
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Admit(context.Background(), "2025-10-22", func(context.Context, storage.Admission) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Admit(ctx, "2025-10-22", func(context.Context, storage.Admission) error { return nil })
	if !errors.Is(err, model.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict while lock is held, got %v", err)
	}
	// Other dates are not blocked.
	if err := s.Admit(context.Background(), "2025-10-23", func(context.Context, storage.Admission) error { return nil }); err != nil {
		t.Fatalf("unrelated date blocked: %v", err)
	}
}

func TestNotificationsReadAndExpire(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2025, 10, 22, 9, 0, 0, 0, time.UTC)
	_ = s.InsertNotification(ctx, &model.Notification{ID: "n1", RecipientID: "u1", CreatedAt: now})
	_ = s.InsertNotification(ctx, &model.Notification{ID: "n2", RecipientID: "u1", CreatedAt: now.Add(time.Minute)})

	if _, err := s.MarkRead(ctx, "someone-else", "n1", now); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("foreign read must be not found, got %v", err)
	}
	n, err := s.MarkRead(ctx, "u1", "n1", now)
	if err != nil || !n.Read || !n.ExpiresAt.Equal(now.Add(model.NotificationReadTTL)) {
		t.Fatalf("MarkRead: %+v %v", n, err)
	}
	if c, _ := s.CountUnread(ctx, "u1"); c != 1 {
		t.Fatalf("expected 1 unread, got %d", c)
	}
	removed, _ := s.DeleteExpired(ctx, now.Add(model.NotificationReadTTL))
	if removed != 1 {
		t.Fatalf("expected 1 expired notification removed, got %d", removed)
	}
}
