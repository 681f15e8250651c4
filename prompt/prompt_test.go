package prompt

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/directory"
	"github.com/hupe1980/channelmesh/store/memory"
)

type fixture struct {
	store *memory.InMemoryStore
	b     *Builder
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.NewInMemoryStore()
	agents := []core.Agent{
		{ID: "r", Name: "researcher", Description: "Finds sources", Instructions: "You dig up facts for {{.username}}.", Class: core.CapabilityResearch},
		{ID: "a", Name: "analyst", Description: "Checks numbers"},
		{ID: "w", Name: "writer"},
	}
	for _, a := range agents {
		require.NoError(t, s.CreateAgent(ctx, a))
		require.NoError(t, s.AddMember(ctx, core.ChannelMember{ChannelID: "c", Kind: core.MemberAgent, MemberID: a.ID}))
	}
	return &fixture{
		store: s,
		b:     NewBuilder(s, directory.New(s)),
		clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) post(t *testing.T, id string, kind core.AuthorKind, author, content string) {
	t.Helper()
	f.clock = f.clock.Add(time.Second)
	require.NoError(t, f.store.Insert(context.Background(), core.Message{
		ID: id, ChannelID: "c", AuthorKind: kind, AuthorID: author, Content: content, CreatedAt: f.clock,
	}))
}

func TestBuild_HistoryRolesNamesAndPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.post(t, "1", core.AuthorUser, "alice", "@researcher look into X.")
	f.post(t, "2", core.AuthorAgent, "a", "earlier analysis")
	f.post(t, "3", core.AuthorSystem, "", "channel renamed")
	f.post(t, "4", core.AuthorAgent, "r", core.PlaceholderContent)

	ic, err := f.b.Build(context.Background(), Request{
		ChannelID:            "c",
		AgentID:              "r",
		PlaceholderMessageID: "4",
		TriggeringText:       "@researcher look into X.",
		TriggeringUsername:   "alice",
	})
	require.NoError(t, err)

	want := []core.HistoryEntry{
		{Role: core.RoleUser, Name: "alice", Content: "@researcher look into X."},
		{Role: core.RoleAssistant, Name: "analyst", Content: "earlier analysis"},
		{Role: core.RoleAssistant, Name: "system", Content: "channel renamed"},
		{Role: core.RoleUser, Name: "alice", Content: "@researcher look into X."},
	}
	if diff := cmp.Diff(want, ic.History); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "researcher", ic.Agent.Name)
	assert.Len(t, ic.Roster, 2)
}

func TestBuild_TriggerNotDuplicated(t *testing.T) {
	f := newFixture(t)
	f.post(t, "1", core.AuthorUser, "alice", "@analyst check this")

	ic, err := f.b.Build(context.Background(), Request{
		ChannelID: "c", AgentID: "a", TriggeringText: "@analyst check this", TriggeringUsername: "alice",
	})
	require.NoError(t, err)
	assert.Len(t, ic.History, 1)
}

func TestBuild_HistoryBounded(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < HistoryLimit+10; i++ {
		f.post(t, core.NewMessageID(), core.AuthorUser, "alice", "msg")
	}

	ic, err := f.b.Build(context.Background(), Request{ChannelID: "c", AgentID: "a"})
	require.NoError(t, err)
	assert.Len(t, ic.History, HistoryLimit)
}

func TestBuild_UnknownAgent(t *testing.T) {
	f := newFixture(t)
	_, err := f.b.Build(context.Background(), Request{ChannelID: "c", AgentID: "ghost"})
	assert.ErrorIs(t, err, core.ErrAgentNotFound)
}

func TestBuild_Deterministic(t *testing.T) {
	f := newFixture(t)
	f.post(t, "1", core.AuthorUser, "alice", "hello")
	req := Request{ChannelID: "c", AgentID: "w", TriggeringText: "hello", TriggeringUsername: "alice"}

	a, err := f.b.Build(context.Background(), req)
	require.NoError(t, err)
	b, err := f.b.Build(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, a.Instructions, b.Instructions)
	assert.Equal(t, a.History, b.History)
}

func TestInstructions_Composition(t *testing.T) {
	agent := core.Agent{Name: "researcher", Description: "Finds sources", Instructions: "You dig up facts for {{.username}}."}
	roster := []core.Agent{{Name: "analyst", Description: "Checks numbers"}, {Name: "writer"}}

	got, err := Instructions(agent, roster, Request{TriggeringUsername: "alice", ToolsGranted: true})
	require.NoError(t, err)

	assert.Contains(t, got, "You dig up facts for alice.")
	assert.Contains(t, got, "You are @researcher. Your role: Finds sources")
	assert.Contains(t, got, "- @analyst: Checks numbers")
	assert.Contains(t, got, "- @writer: no description")
	assert.Contains(t, got, "ONLY to delegate")
	assert.Contains(t, got, "one at a time")
	assert.Contains(t, got, "written summary")
	assert.Contains(t, got, "You are responding to alice. Address them by name.")
	assert.NotContains(t, got, "- @researcher")
}

func TestInstructions_FallbackPersonaNoToolsNoUser(t *testing.T) {
	got, err := Instructions(core.Agent{Name: "writer"}, nil, Request{})
	require.NoError(t, err)

	assert.Contains(t, got, FallbackPersona)
	assert.Contains(t, got, "no other agents")
	assert.NotContains(t, got, "written summary")
	assert.NotContains(t, got, "Address them by name")
}

func TestInstructions_DelegatedChainMentionsOrigin(t *testing.T) {
	got, err := Instructions(core.Agent{Name: "analyst"}, nil, Request{TriggeringUsername: "researcher", OriginUsername: "alice"})
	require.NoError(t, err)

	assert.Contains(t, got, "You are responding to researcher.")
	assert.Contains(t, got, "started by alice")
}
