package push

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "servicebay:live:"

// RedisPusher publishes live events on a per-user Redis channel so any API
// instance holding the user's stream can forward them.
type RedisPusher struct {
	rdb redis.UniversalClient
}

func NewRedisPusher(rdb redis.UniversalClient) *RedisPusher {
	return &RedisPusher{rdb: rdb}
}

func Channel(userID string) string {
	return channelPrefix + userID
}

func (p *RedisPusher) Push(ctx context.Context, userID, event string, payload any) error {
	msg, err := encode(event, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, Channel(userID), raw).Err()
}

func (p *RedisPusher) Subscribe(ctx context.Context, userID string) (<-chan Message, func(), error) {
	sub := p.rdb.Subscribe(ctx, Channel(userID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}
	out := make(chan Message, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		in := sub.Channel()
		for {
			select {
			case <-done:
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					continue
				}
				select {
				case out <- msg:
				default:
				}
			}
		}
	}()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, cancel, nil
}
