package push

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLocalHub(t *testing.T) {
	h := NewLocalHub()
	ctx := context.Background()

	ch, cancel, err := h.Subscribe(ctx, "u-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := h.Push(ctx, "u-2", "notification", map[string]string{"id": "x"}); err != nil {
		t.Fatalf("Push other user: %v", err)
	}
	if err := h.Push(ctx, "u-1", "unread_count", map[string]int{"count": 3}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	select {
	case msg := <-ch:
		var body map[string]int
		if msg.Event != "unread_count" || json.Unmarshal(msg.Data, &body) != nil || body["count"] != 3 {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("no message delivered")
	}
	select {
	case msg := <-ch:
		t.Fatalf("received another user's message: %+v", msg)
	default:
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel must be closed after cancel")
	}
	if err := h.Push(ctx, "u-1", "notification", nil); err != nil {
		t.Fatalf("push without subscribers must succeed: %v", err)
	}
}

func TestRedisPusher(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	p := NewRedisPusher(rdb)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, stop, err := p.Subscribe(ctx, "u-redis")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()
	if err := p.Push(ctx, "u-redis", "notification", map[string]string{"title": "hi"}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	select {
	case msg := <-ch:
		if msg.Event != "notification" {
			t.Fatalf("unexpected event %q", msg.Event)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for message")
	}
}
