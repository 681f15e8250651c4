package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/channelmesh/core"
)

var (
	_ core.MessageStore      = (*InMemoryStore)(nil)
	_ core.MessageSearcher   = (*InMemoryStore)(nil)
	_ core.AgentDirectory    = (*InMemoryStore)(nil)
	_ core.ChannelAdmin      = (*InMemoryStore)(nil)
	_ core.IdempotencyLedger = (*InMemoryStore)(nil)
	_ core.MessageLocator    = (*InMemoryStore)(nil)
)

func TestInMemoryStore_HistoryOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, core.Message{ID: "b", ChannelID: "c", CreatedAt: base, Content: "2"}))
	require.NoError(t, s.Insert(ctx, core.Message{ID: "a", ChannelID: "c", CreatedAt: base, Content: "1"}))
	require.NoError(t, s.Insert(ctx, core.Message{ID: "z", ChannelID: "c", CreatedAt: base.Add(-time.Second), Content: "0"}))
	require.NoError(t, s.Insert(ctx, core.Message{ID: "x", ChannelID: "other", CreatedAt: base}))

	all, err := s.ListHistory(ctx, "c", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "b"}, ids(all))

	last2, err := s.ListHistory(ctx, "c", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(last2))
}

func TestInMemoryStore_UpdateRecordsRevisions(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	require.NoError(t, s.Insert(ctx, core.Message{ID: "m", ChannelID: "c", Content: core.PlaceholderContent}))
	require.NoError(t, s.Update(ctx, "m", "He"))
	require.NoError(t, s.Update(ctx, "m", "Hello"))

	assert.Equal(t, []string{core.PlaceholderContent, "He", "Hello"}, s.Revisions("m"))
	assert.ErrorIs(t, s.Update(ctx, "missing", "x"), core.ErrMessageNotFound)

	channelID, err := s.ChannelOf(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, "c", channelID)
	_, err = s.ChannelOf(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrMessageNotFound)
}

func TestInMemoryStore_Directory(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	require.NoError(t, s.CreateAgent(ctx, core.Agent{ID: "1", Name: "researcher"}))
	require.NoError(t, s.CreateAgent(ctx, core.Agent{ID: "2", Name: "analyst"}))
	assert.ErrorIs(t, s.CreateAgent(ctx, core.Agent{ID: "3", Name: "Analyst"}), core.ErrAgentNameTaken)

	require.NoError(t, s.AddMember(ctx, core.ChannelMember{ChannelID: "c", Kind: core.MemberAgent, MemberID: "1"}))
	require.NoError(t, s.AddMember(ctx, core.ChannelMember{ChannelID: "c", Kind: core.MemberAgent, MemberID: "2"}))
	require.NoError(t, s.AddMember(ctx, core.ChannelMember{ChannelID: "c", Kind: core.MemberAgent, MemberID: "2"}))
	require.NoError(t, s.AddMember(ctx, core.ChannelMember{ChannelID: "c", Kind: core.MemberUser, MemberID: "alice"}))

	agents, err := s.ListChannelAgents(ctx, "c", "1")
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "analyst", agents[0].Name)

	_, err = s.GetAgent(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrAgentNotFound)

	members, err := s.ListChannelMembers(ctx, "c")
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestInMemoryStore_SearchNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	base := time.Now()
	require.NoError(t, s.Insert(ctx, core.Message{ID: "1", ChannelID: "c", CreatedAt: base, Content: "Budget draft"}))
	require.NoError(t, s.Insert(ctx, core.Message{ID: "2", ChannelID: "c", CreatedAt: base.Add(time.Second), Content: "final budget"}))
	require.NoError(t, s.Insert(ctx, core.Message{ID: "3", ChannelID: "c", CreatedAt: base.Add(2 * time.Second), Content: "lunch"}))

	found, err := s.SearchMessages(ctx, "c", "BUDGET", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "1"}, ids(found))
}

func TestInMemoryStore_Claim(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	first, err := s.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.Claim(ctx, "k")
	require.NoError(t, err)
	assert.False(t, again)
}

func ids(msgs []core.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
