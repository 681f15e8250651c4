package channelmesh

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/delegation"
	"github.com/hupe1980/channelmesh/internal/testutil"
	"github.com/hupe1980/channelmesh/live"
	"github.com/hupe1980/channelmesh/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func replies(names ...string) delegation.ModelResolver {
	byName := make(map[string]model.Model, len(names))
	for _, n := range names {
		byName[n] = model.NewScriptedModel(n, testutil.Reply("reply from "+n))
	}
	return func(a core.Agent) (model.Model, error) {
		if m, ok := byName[a.Name]; ok {
			return m, nil
		}
		return nil, errors.New("no model")
	}
}

func newMesh(t *testing.T, optFns ...func(o *Options)) (*Mesh, *testutil.Channel) {
	t.Helper()
	ch := testutil.NewChannelBuilder(t, "general").
		User("alice").
		Agent("researcher", core.CapabilityResearch).
		Agent("analyst", core.CapabilityStandard).
		Build()

	fns := append([]func(o *Options){func(o *Options) {
		o.Models = replies("researcher", "analyst")
	}}, optFns...)
	return New(ch.Store, fns...), ch
}

func TestPostMessage_TriggersMentionedAgentsInTextOrder(t *testing.T) {
	m, ch := newMesh(t)

	res, err := m.PostMessage(context.Background(), ch.ID, "alice", "  @Analyst please ask @researcher, thanks @analyst  ")
	require.NoError(t, err)
	require.Len(t, res.Placeholders, 2)

	assert.Equal(t, "analyst", res.Placeholders[0].AgentName)
	assert.Equal(t, "researcher", res.Placeholders[1].AgentName)

	for _, p := range res.Placeholders {
		assert.True(t, p.Result.Success, p.Result.Error)
		msg, ok := ch.Store.Message(p.MessageID)
		require.True(t, ok)
		assert.Equal(t, "reply from "+p.AgentName+"\n\n", msg.Content)
	}

	msgs := ch.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, res.MessageID, msgs[0].ID)
	assert.Equal(t, "@Analyst please ask @researcher, thanks @analyst", msgs[0].Content, "content is trimmed")
	assert.Equal(t, res.Placeholders[0].MessageID, msgs[1].ID)
	assert.Equal(t, res.Placeholders[1].MessageID, msgs[2].ID)
}

func TestPostMessage_WithoutMentionsOnlyStores(t *testing.T) {
	m, ch := newMesh(t)

	res, err := m.PostMessage(context.Background(), ch.ID, "alice", "hello @nobody")
	require.NoError(t, err)
	assert.Empty(t, res.Placeholders)
	assert.Len(t, ch.Messages(), 1)
}

func TestPostMessage_Empty(t *testing.T) {
	m, ch := newMesh(t)

	_, err := m.PostMessage(context.Background(), ch.ID, "alice", " \n ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, ch.Messages())
}

func TestTriggerDelegation_DuplicatePlaceholder(t *testing.T) {
	m, ch := newMesh(t)
	ctx := context.Background()
	researcher := ch.AgentNamed("researcher")
	p := ch.Placeholder("researcher")

	first := m.TriggerDelegation(ctx, ch.ID, researcher.ID, p.ID, "@researcher hi", "alice", 0)
	require.True(t, first.Success, first.Error)
	assert.False(t, first.Duplicate)
	revisions := ch.Store.Revisions(p.ID)

	second := m.TriggerDelegation(ctx, ch.ID, researcher.ID, p.ID, "@researcher hi", "alice", 0)
	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)

	assert.Equal(t, revisions, ch.Store.Revisions(p.ID), "a duplicate trigger writes nothing")
}

func TestTriggerDelegation_DepthCeiling(t *testing.T) {
	m, ch := newMesh(t)
	p := ch.Placeholder("analyst")

	res := m.TriggerDelegation(context.Background(), ch.ID, ch.AgentNamed("analyst").ID, p.ID, "go deeper", "researcher", delegation.MaxDepth)
	assert.True(t, res.Success)

	msg, _ := ch.Store.Message(p.ID)
	assert.Equal(t, delegation.DepthLimitNotice, msg.Content)
}

func TestMesh_PublishesLiveEvents(t *testing.T) {
	hub := live.NewHub()
	m, ch := newMesh(t, func(o *Options) { o.Hub = hub })

	var (
		mu     sync.Mutex
		events []live.Event
	)
	defer hub.Subscribe(ch.ID, func(ev live.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})()

	res, err := m.PostMessage(context.Background(), ch.ID, "alice", "@analyst hi")
	require.NoError(t, err)
	require.Len(t, res.Placeholders, 1)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, live.TypeMessageCreated, events[0].Type)
	assert.Equal(t, res.MessageID, events[0].MessageID)
	assert.Equal(t, live.TypeMessageCreated, events[1].Type)
	assert.Equal(t, core.PlaceholderContent, events[1].Content)

	last := events[len(events)-1]
	assert.Equal(t, live.TypeMessageUpdated, last.Type)
	assert.Equal(t, "reply from analyst\n\n", last.Content)
	assert.Equal(t, int64(len(events)), last.Seq)
}

func TestCreateAgent(t *testing.T) {
	m, ch := newMesh(t)
	ctx := context.Background()

	a, err := m.CreateAgent(ctx, core.Agent{Name: " writer ", Description: "Writes", Instructions: "You write."})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "writer", a.Name)
	assert.Equal(t, core.CapabilityStandard, a.Class)

	_, err = m.CreateAgent(ctx, core.Agent{Name: "Writer", Description: "Writes", Instructions: "You write."})
	assert.ErrorIs(t, err, core.ErrAgentNameTaken)

	_, err = m.CreateAgent(ctx, core.Agent{Name: "bad name", Description: "d", Instructions: "i"})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)

	require.NoError(t, m.AddMember(ctx, core.ChannelMember{ChannelID: ch.ID, Kind: core.MemberAgent, MemberID: a.ID}))
	members, err := m.Members(ctx, ch.ID)
	require.NoError(t, err)
	assert.Len(t, members, 4)
}

func TestAddMember_Errors(t *testing.T) {
	m, ch := newMesh(t)
	ctx := context.Background()

	err := m.AddMember(ctx, core.ChannelMember{ChannelID: ch.ID, Kind: core.MemberAgent, MemberID: "ghost"})
	assert.ErrorIs(t, err, core.ErrAgentNotFound)

	var verr *core.ValidationError
	err = m.AddMember(ctx, core.ChannelMember{ChannelID: ch.ID, Kind: "bot", MemberID: "x"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "member_type", verr.Field)

	err = m.AddMember(ctx, core.ChannelMember{ChannelID: ch.ID, Kind: core.MemberUser})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "member_id", verr.Field)
}

func TestNewModelResolver(t *testing.T) {
	created := map[string]int{}
	factory := func(provider string) ModelFactory {
		return func(name string) (model.Model, error) {
			created[provider+"/"+name]++
			return model.NewScriptedModel(provider+"/"+name, nil), nil
		}
	}
	resolve := NewModelResolver("openai", map[string]ModelFactory{
		"openai":    factory("openai"),
		"anthropic": factory("anthropic"),
		"broken": func(string) (model.Model, error) {
			return nil, errors.New("no key")
		},
	})

	m1, err := resolve(core.Agent{Name: "a"})
	require.NoError(t, err)
	assert.Equal(t, "openai/", m1.Info().Name)

	m2, err := resolve(core.Agent{Name: "b", ModelConfig: core.ModelConfig{Provider: "Anthropic", Model: "claude"}})
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude", m2.Info().Name)

	_, err = resolve(core.Agent{Name: "c"})
	require.NoError(t, err)
	assert.Equal(t, 1, created["openai/"], "models are cached per provider and name")

	_, err = resolve(core.Agent{Name: "d", ModelConfig: core.ModelConfig{Provider: "llama"}})
	assert.ErrorContains(t, err, "unknown model provider")

	_, err = resolve(core.Agent{Name: "e", ModelConfig: core.ModelConfig{Provider: "broken"}})
	assert.ErrorContains(t, err, "no key")
}
