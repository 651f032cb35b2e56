package syncer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/kagami/internal/models"
)

// EventType tags a job lifecycle notification.
type EventType string

const (
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventPaused    EventType = "paused"
	EventResumed   EventType = "resumed"
	EventStopped   EventType = "stopped"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
)

// Event is one best-effort lifecycle notification.
type Event struct {
	Family     models.JobFamily `json:"family"`
	JobID      string           `json:"job_id"`
	Type       EventType        `json:"type"`
	EntityType models.EntityType `json:"entity_type,omitempty"`
	Processed  int              `json:"processed"`
	Total      int              `json:"total"`
	Error      string           `json:"error,omitempty"`
	At         time.Time        `json:"at"`
}

// Hub fans job lifecycle events out to subscribers. Publishing never blocks:
// a subscriber whose channel is full simply misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer and returns its
// token and channel. The channel is closed on Unsubscribe or hub Close.
func (h *Hub) Subscribe(buffer int) (string, <-chan Event) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	token := uuid.New().String()
	h.mu.Lock()
	h.subs[token] = ch
	h.mu.Unlock()
	return token, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[token]; ok {
		delete(h.subs, token)
		close(ch)
	}
}

// Publish delivers the event to every subscriber that has buffer space.
func (h *Hub) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close removes all subscribers and closes their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for token, ch := range h.subs {
		delete(h.subs, token)
		close(ch)
	}
}
