// Package live fans out message changes to subscribers in real time.
//
// A Store wraps a core.MessageStore and publishes every insert and content
// update to a Hub. Clients follow a channel over a websocket (see Handler)
// and watch placeholder messages grow while agents stream.
package live

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeMessageCreated = "message.created"
	TypeMessageUpdated = "message.updated"
)

// Event is one change of a channel transcript.
type Event struct {
	Type       string    `json:"type"`
	ChannelID  string    `json:"channel_id"`
	MessageID  string    `json:"message_id"`
	AuthorKind string    `json:"author_kind,omitempty"`
	AuthorID   string    `json:"author_id,omitempty"`
	Content    string    `json:"content"`
	Seq        int64     `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
}

// Listener receives events synchronously during Publish and must not block.
type Listener func(ev Event)

// Hub is a thread-safe pub/sub hub keyed by channel id.
type Hub struct {
	listeners sync.Map // listenerID (uint64) → subscription
	nextID    atomic.Uint64
	seqByChan sync.Map // channelID → *atomic.Int64
	count     atomic.Int64
}

type subscription struct {
	channelID string
	fn        Listener
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Subscribe registers fn for events of channelID and returns an unsubscribe function.
func (h *Hub) Subscribe(channelID string, fn Listener) func() {
	id := h.nextID.Add(1)
	h.listeners.Store(id, subscription{channelID: channelID, fn: fn})
	h.count.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.listeners.Delete(id)
			h.count.Add(-1)
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int64 { return h.count.Load() }

// Publish assigns the next per-channel sequence number to ev and delivers it.
func (h *Hub) Publish(ev Event) {
	seq, _ := h.seqByChan.LoadOrStore(ev.ChannelID, new(atomic.Int64))
	ev.Seq = seq.(*atomic.Int64).Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.listeners.Range(func(_, value any) bool {
		if sub, ok := value.(subscription); ok && sub.channelID == ev.ChannelID {
			sub.fn(ev)
		}
		return true
	})
}
