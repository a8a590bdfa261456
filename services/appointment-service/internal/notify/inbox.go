package notify

import (
	"context"
	"time"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/notify/push"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/storage"
)

const defaultListLimit = 50

// Inbox is the read side of in-app notifications.
type Inbox struct {
	store  storage.NotificationStore
	pusher push.Pusher
	now    func() time.Time
}

func NewInbox(store storage.NotificationStore, pusher push.Pusher, now func() time.Time) *Inbox {
	if pusher == nil {
		pusher = push.Noop{}
	}
	if now == nil {
		now = time.Now
	}
	return &Inbox{store: store, pusher: pusher, now: now}
}

func (i *Inbox) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}
	return i.store.ListNotifications(ctx, userID, unreadOnly, limit)
}

func (i *Inbox) UnreadCount(ctx context.Context, userID string) (int, error) {
	return i.store.CountUnread(ctx, userID)
}

// MarkRead flags one of the user's notifications read; it expires 30 days later.
func (i *Inbox) MarkRead(ctx context.Context, userID, id string) (model.Notification, error) {
	n, err := i.store.MarkRead(ctx, userID, id, i.now().UTC())
	if err != nil {
		return model.Notification{}, err
	}
	if count, err := i.store.CountUnread(ctx, userID); err == nil {
		_ = i.pusher.Push(ctx, userID, "unread_count", map[string]int{"count": count})
	}
	return n, nil
}
