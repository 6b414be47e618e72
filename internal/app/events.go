package app

import (
	"sync"
	"time"

	"github.com/voxlab/botserve/internal/domain"
)

type EventType string

const (
	EventBotStarted EventType = "bot_started"
	EventBotExited  EventType = "bot_exited"
)

// Event is a lifecycle notification pushed to subscribers when a bot is
// spawned or observed to exit.
type Event struct {
	Type    EventType       `json:"type"`
	BotPID  domain.WorkerID `json:"bot_pid"`
	RoomURL domain.RoomURL  `json:"room_url"`
	At      time.Time       `json:"at"`
}

// Hub fans lifecycle events out to subscribers. Delivery is best effort: a
// subscriber whose buffer is full misses the event instead of blocking the
// publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
