package live

import (
	"container/list"
	"context"
	"sync"

	"github.com/hupe1980/channelmesh/core"
)

const defaultTrackedMessages = 4096

// Store decorates a core.MessageStore and publishes successful writes.
type Store struct {
	core.MessageStore
	hub *Hub

	mu       sync.Mutex
	channels map[string]*list.Element // message id → element holding trackedMessage
	order    *list.List
	limit    int
}

type trackedMessage struct {
	id, channelID string
}

// NewStore wraps next. Update events need the channel of a message; the
// channels of the most recent inserts are remembered, and other ids are
// resolved through next when it implements core.MessageLocator.
func NewStore(next core.MessageStore, hub *Hub) *Store {
	return &Store{
		MessageStore: next,
		hub:          hub,
		channels:     make(map[string]*list.Element),
		order:        list.New(),
		limit:        defaultTrackedMessages,
	}
}

// Insert implements core.MessageStore.
func (s *Store) Insert(ctx context.Context, msg core.Message) error {
	if err := s.MessageStore.Insert(ctx, msg); err != nil {
		return err
	}
	s.track(msg.ID, msg.ChannelID)
	s.hub.Publish(Event{
		Type:       TypeMessageCreated,
		ChannelID:  msg.ChannelID,
		MessageID:  msg.ID,
		AuthorKind: string(msg.AuthorKind),
		AuthorID:   msg.AuthorID,
		Content:    msg.Content,
	})
	return nil
}

// Update implements core.MessageStore. Updates of messages whose channel
// cannot be resolved are persisted but not published.
func (s *Store) Update(ctx context.Context, id, content string) error {
	if err := s.MessageStore.Update(ctx, id, content); err != nil {
		return err
	}
	if channelID, ok := s.resolve(ctx, id); ok {
		s.hub.Publish(Event{
			Type:      TypeMessageUpdated,
			ChannelID: channelID,
			MessageID: id,
			Content:   content,
		})
	}
	return nil
}

func (s *Store) track(id, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[id]; ok {
		return
	}
	s.channels[id] = s.order.PushBack(trackedMessage{id: id, channelID: channelID})
	for s.order.Len() > s.limit {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.channels, oldest.Value.(trackedMessage).id)
	}
}

// resolve looks id up in the tracked inserts first and falls back to the
// wrapped store.
func (s *Store) resolve(ctx context.Context, id string) (string, bool) {
	if channelID, ok := s.channelOf(id); ok {
		return channelID, true
	}
	locator, ok := s.MessageStore.(core.MessageLocator)
	if !ok {
		return "", false
	}
	channelID, err := locator.ChannelOf(ctx, id)
	if err != nil {
		return "", false
	}
	s.track(id, channelID)
	return channelID, true
}

func (s *Store) channelOf(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.channels[id]
	if !ok {
		return "", false
	}
	return el.Value.(trackedMessage).channelID, true
}
