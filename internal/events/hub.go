// Package events fans out per-user change notifications to live subscribers.
package events

import (
	"sync"
	"time"
)

// Event types.
const (
	WhisperCreated  = "whisper.created"
	WhisperUpdated  = "whisper.updated"
	WhisperDeleted  = "whisper.deleted"
	MemoirGenerated = "memoir.generated"
	MemoirFailed    = "memoir.failed"
)

// Event is one notification addressed to a user.
type Event struct {
	Type      string `json:"type"`
	UserID    string `json:"-"`
	WhisperID string `json:"whisper_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher accepts events. *Hub implements it.
type Publisher interface {
	Publish(e Event)
}

// subscriberBuffer is the per-subscriber queue length. Events beyond it are
// dropped for that subscriber.
const subscriberBuffer = 32

// Hub delivers events to subscribers of the addressed user.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers a subscriber for userID. The returned cancel function
// unsubscribes and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[userID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[userID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, userID)
			}
		}
		h.mu.Unlock()
		s.once.Do(func() { close(s.ch) })
	}
	return s.ch, cancel
}

// Publish delivers e to every subscriber of e.UserID without blocking.
func (h *Hub) Publish(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[e.UserID] {
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Subscribers returns the number of live subscribers for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for userID, set := range h.subs {
		for s := range set {
			s.once.Do(func() { close(s.ch) })
		}
		delete(h.subs, userID)
	}
}
