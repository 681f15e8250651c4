package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/store/memory"
)

// ChannelBuilder seeds an in-memory store with one channel.
// Example:
//
//	ch := NewChannelBuilder(t, "c1").User("alice").Agent("researcher", core.CapabilityResearch).Build()
//	placeholder := ch.Placeholder("researcher")
type ChannelBuilder struct {
	t       *testing.T
	id      string
	store   *memory.InMemoryStore
	agents  map[string]core.Agent
	clock   time.Time
	members []core.ChannelMember
}

// NewChannelBuilder creates a builder for channel id backed by a fresh store.
func NewChannelBuilder(t *testing.T, id string) *ChannelBuilder {
	t.Helper()
	return &ChannelBuilder{
		t:      t,
		id:     id,
		store:  memory.NewInMemoryStore(),
		agents: map[string]core.Agent{},
		clock:  time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// User adds a human member (chainable).
func (b *ChannelBuilder) User(name string) *ChannelBuilder {
	b.members = append(b.members, core.ChannelMember{ChannelID: b.id, Kind: core.MemberUser, MemberID: name})
	return b
}

// Agent creates an agent and adds it as a member (chainable).
func (b *ChannelBuilder) Agent(name string, class core.CapabilityClass) *ChannelBuilder {
	a := b.agent(name, class)
	b.members = append(b.members, core.ChannelMember{ChannelID: b.id, Kind: core.MemberAgent, MemberID: a.ID})
	return b
}

// Outsider creates an agent that is not a member of the channel (chainable).
func (b *ChannelBuilder) Outsider(name string) *ChannelBuilder {
	b.agent(name, core.CapabilityStandard)
	return b
}

func (b *ChannelBuilder) agent(name string, class core.CapabilityClass) core.Agent {
	b.t.Helper()
	a := core.Agent{
		ID:           "agent-" + name,
		Name:         name,
		Description:  name + " agent",
		Instructions: "You are " + name + ".",
		Class:        class,
	}
	require.NoError(b.t, b.store.CreateAgent(context.Background(), a))
	b.agents[name] = a
	return a
}

// Build persists the memberships and returns the seeded channel.
func (b *ChannelBuilder) Build() *Channel {
	b.t.Helper()
	for _, m := range b.members {
		require.NoError(b.t, b.store.AddMember(context.Background(), m))
	}
	return &Channel{t: b.t, ID: b.id, Store: b.store, agents: b.agents, clock: b.clock}
}

// Channel is a seeded test channel.
type Channel struct {
	t      *testing.T
	ID     string
	Store  *memory.InMemoryStore
	agents map[string]core.Agent
	clock  time.Time
}

// AgentNamed returns the agent created under name.
func (c *Channel) AgentNamed(name string) core.Agent {
	c.t.Helper()
	a, ok := c.agents[name]
	require.True(c.t, ok, "unknown agent %s", name)
	return a
}

// Now returns a strictly increasing fake clock.
func (c *Channel) Now() time.Time {
	c.clock = c.clock.Add(time.Second)
	return c.clock
}

// Post inserts a user message and returns it.
func (c *Channel) Post(username, text string) core.Message {
	c.t.Helper()
	return c.insert(core.Message{AuthorKind: core.AuthorUser, AuthorID: username, Content: text})
}

// Placeholder inserts a Thinking... message for the named agent and returns it.
func (c *Channel) Placeholder(agentName string) core.Message {
	c.t.Helper()
	return c.insert(core.Message{
		AuthorKind: core.AuthorAgent,
		AuthorID:   c.AgentNamed(agentName).ID,
		Content:    core.PlaceholderContent,
	})
}

func (c *Channel) insert(m core.Message) core.Message {
	c.t.Helper()
	m.ID = core.NewMessageID()
	m.ChannelID = c.ID
	m.CreatedAt = c.Now()
	require.NoError(c.t, c.Store.Insert(context.Background(), m))
	return m
}

// Messages returns the whole channel transcript in order.
func (c *Channel) Messages() []core.Message {
	c.t.Helper()
	msgs, err := c.Store.ListHistory(context.Background(), c.ID, 0)
	require.NoError(c.t, err)
	return msgs
}

// AgentMessages returns the transcript messages authored by agents.
func (c *Channel) AgentMessages() []core.Message {
	var out []core.Message
	for _, m := range c.Messages() {
		if m.AuthorKind == core.AuthorAgent {
			out = append(out, m)
		}
	}
	return out
}
