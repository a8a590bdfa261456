// Package push carries live events to a user's open connections.
package push

import (
	"context"
	"encoding/json"
	"sync"
)

// Message is one event on a user's live channel.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Pusher delivers an event to a user. Pushing to a user with no live
// connection is not an error.
type Pusher interface {
	Push(ctx context.Context, userID, event string, payload any) error
}

// Subscriber opens a user's live channel. The returned cancel func releases it.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan Message, func(), error)
}

func encode(event string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: event, Data: raw}, nil
}

// LocalHub fans events out to subscribers in this process.
type LocalHub struct {
	mu     sync.Mutex
	subs   map[string]map[chan Message]struct{}
	buffer int
}

func NewLocalHub() *LocalHub {
	return &LocalHub{subs: map[string]map[chan Message]struct{}{}, buffer: 16}
}

func (h *LocalHub) Push(_ context.Context, userID, event string, payload any) error {
	msg, err := encode(event, payload)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[userID] {
		select {
		case ch <- msg:
		default:
			// slow consumer; drop
		}
	}
	return nil
}

func (h *LocalHub) Subscribe(_ context.Context, userID string) (<-chan Message, func(), error) {
	ch := make(chan Message, h.buffer)
	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = map[chan Message]struct{}{}
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

type Noop struct{}

func (Noop) Push(context.Context, string, string, any) error { return nil }
