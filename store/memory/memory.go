// Package memory provides a volatile, process-local implementation of every
// channelmesh store contract. It is safe for concurrent access and suited to
// tests, demos and the `STORE=memory` development mode. Its idempotency ledger
// does not survive a restart; use the postgres, sqlite or redis ledgers where
// duplicate suppression must be durable.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/channelmesh/core"
)

// InMemoryStore keeps messages, agents, memberships and claimed trigger keys
// in maps guarded by a single RWMutex. Returned values are copies.
type InMemoryStore struct {
	mu        sync.RWMutex
	messages  map[string]core.Message
	revisions map[string][]string
	agents    map[string]core.Agent
	members   map[string][]core.ChannelMember
	claims    map[string]struct{}
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		messages:  make(map[string]core.Message),
		revisions: make(map[string][]string),
		agents:    make(map[string]core.Agent),
		members:   make(map[string][]core.ChannelMember),
		claims:    make(map[string]struct{}),
	}
}

// Insert stores msg. Inserting an existing id overwrites it.
func (s *InMemoryStore) Insert(ctx context.Context, msg core.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg
	s.revisions[msg.ID] = []string{msg.Content}
	return nil
}

// Update replaces the content of message id.
func (s *InMemoryStore) Update(ctx context.Context, id, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return core.ErrMessageNotFound
	}
	msg.Content = content
	s.messages[id] = msg
	s.revisions[id] = append(s.revisions[id], content)
	return nil
}

// ListHistory returns the newest limit messages of a channel, oldest first.
// A limit <= 0 returns the whole channel.
func (s *InMemoryStore) ListHistory(ctx context.Context, channelID string, limit int) ([]core.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Message, 0)
	for _, m := range s.messages {
		if m.ChannelID == channelID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// SearchMessages returns up to limit messages of a channel whose content
// contains query case-insensitively, newest first.
func (s *InMemoryStore) SearchMessages(ctx context.Context, channelID, query string, limit int) ([]core.Message, error) {
	all, err := s.ListHistory(ctx, channelID, 0)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	out := make([]core.Message, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if strings.Contains(strings.ToLower(all[i].Content), q) {
			out = append(out, all[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// ChannelOf implements core.MessageLocator.
func (s *InMemoryStore) ChannelOf(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return "", core.ErrMessageNotFound
	}
	return m.ChannelID, nil
}

// Message returns a single message by id.
func (s *InMemoryStore) Message(id string) (core.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	return m, ok
}

// Revisions returns every content value message id has held, starting with
// the inserted content.
func (s *InMemoryStore) Revisions(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.revisions[id]...)
}

// GetAgent implements core.AgentDirectory.
func (s *InMemoryStore) GetAgent(ctx context.Context, id string) (*core.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, core.ErrAgentNotFound
	}
	return &a, nil
}

// ListChannelAgents implements core.AgentDirectory.
func (s *InMemoryStore) ListChannelAgents(ctx context.Context, channelID, excludingID string) ([]core.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Agent, 0)
	for _, m := range s.members[channelID] {
		if m.Kind != core.MemberAgent || m.MemberID == excludingID {
			continue
		}
		if a, ok := s.agents[m.MemberID]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// CreateAgent implements core.ChannelAdmin. Names are unique case-insensitively.
func (s *InMemoryStore) CreateAgent(ctx context.Context, agent core.Agent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.agents {
		if id != agent.ID && strings.EqualFold(a.Name, agent.Name) {
			return core.ErrAgentNameTaken
		}
	}
	s.agents[agent.ID] = agent
	return nil
}

// AddMember implements core.ChannelAdmin. Adding an existing member is a no-op.
func (s *InMemoryStore) AddMember(ctx context.Context, member core.ChannelMember) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members[member.ChannelID] {
		if m == member {
			return nil
		}
	}
	s.members[member.ChannelID] = append(s.members[member.ChannelID], member)
	return nil
}

// ListChannelMembers implements core.ChannelAdmin.
func (s *InMemoryStore) ListChannelMembers(ctx context.Context, channelID string) ([]core.ChannelMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.ChannelMember(nil), s.members[channelID]...), nil
}

// Claim implements core.IdempotencyLedger.
func (s *InMemoryStore) Claim(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.claims[key]; seen {
		return false, nil
	}
	s.claims[key] = struct{}{}
	return true, nil
}
