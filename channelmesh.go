// Package channelmesh provides a high-level facade over the delegation
// dispatcher and its collaborators (message store, agent directory,
// idempotency ledger, tools and models). Most applications interact with
// this package by:
//  1. Creating a Mesh via New() around a Store
//  2. Posting user messages (PostMessage) or triggering agents directly
//     (TriggerDelegation) from their own chat surface
//
// Agents that @mention other channel members delegate to them; the mesh runs
// each resulting tree concurrently and returns once every branch is terminal.
package channelmesh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/delegation"
	"github.com/hupe1980/channelmesh/directory"
	"github.com/hupe1980/channelmesh/invoker"
	"github.com/hupe1980/channelmesh/live"
	"github.com/hupe1980/channelmesh/logging"
	"github.com/hupe1980/channelmesh/mention"
	"github.com/hupe1980/channelmesh/model"
	"github.com/hupe1980/channelmesh/tool"
)

// Store is the persistence a Mesh needs: transcripts, agents and rosters.
type Store interface {
	core.MessageStore
	core.AgentDirectory
	core.ChannelAdmin
}

// ErrEmptyMessage is returned by PostMessage for blank content.
var ErrEmptyMessage = errors.New("message content is empty")

// Options configures the Mesh instance.
type Options struct {
	// Ledger suppresses duplicate triggers. It defaults to the store when the
	// store implements core.IdempotencyLedger.
	Ledger core.IdempotencyLedger

	// Models picks the model of each agent (defaults to an echoing scripted model).
	Models delegation.ModelResolver

	// Hub receives every message insert and update when set.
	Hub *live.Hub

	// Research configures the tools granted to research-capable agents.
	Research []func(o *tool.ResearchOptions)

	MaxConcurrentInvocations int64
	// MaxChainInvocations bounds model steps per delegation tree; 0 means unlimited.
	MaxChainInvocations int
	InvocationTimeout   time.Duration
	MaxSteps            int

	Clock  func() time.Time
	Logger logging.Logger
}

// Mesh is the high-level facade aggregating the dispatcher and its services.
type Mesh struct {
	opts       Options
	store      Store
	messages   core.MessageStore
	directory  *directory.Directory
	dispatcher *delegation.Dispatcher
}

// New creates a Mesh backed by store.
func New(store Store, optFns ...func(o *Options)) *Mesh {
	opts := Options{
		Models:                   delegation.StaticModel(model.NewScriptedModel("scripted", nil)),
		MaxConcurrentInvocations: 8,
		InvocationTimeout:        5 * time.Minute,
		MaxSteps:                 invoker.DefaultMaxSteps,
		Clock:                    time.Now,
		Logger:                   logging.NoOpLogger{},
	}
	if l, ok := store.(core.IdempotencyLedger); ok {
		opts.Ledger = l
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var messages core.MessageStore = store
	if opts.Hub != nil {
		messages = live.NewStore(store, opts.Hub)
	}

	research := append([]func(o *tool.ResearchOptions){func(o *tool.ResearchOptions) {
		if s, err := tool.SearcherOf(store); err == nil {
			o.Searcher = s
		}
		o.Clock = opts.Clock
	}}, opts.Research...)

	dir := directory.New(store)

	d := delegation.New(delegation.Dependencies{
		Messages:  messages,
		Directory: dir,
		Ledger:    opts.Ledger,
		Tools:     tool.NewProvisioner(tool.ResearchTools(research...)...),
		Models:    opts.Models,
		Invoker: invoker.New(func(o *invoker.Options) {
			o.MaxSteps = opts.MaxSteps
			o.Logger = opts.Logger
		}),
	}, func(o *delegation.Options) {
		o.MaxConcurrentInvocations = opts.MaxConcurrentInvocations
		o.MaxChainInvocations = opts.MaxChainInvocations
		o.InvocationTimeout = opts.InvocationTimeout
		o.Clock = opts.Clock
		o.Logger = opts.Logger
	})

	return &Mesh{
		opts:       opts,
		store:      store,
		messages:   messages,
		directory:  dir,
		dispatcher: d,
	}
}

// TriggerDelegation runs an agent for an existing placeholder message and
// every agent it transitively delegates to. It blocks until the whole tree is
// terminal and reports the outcome of the named agent's own branch.
func (m *Mesh) TriggerDelegation(
	ctx context.Context,
	channelID string,
	agentID string,
	placeholderMessageID string,
	triggeringText string,
	triggeringUsername string,
	depth int,
) delegation.Result {
	return m.Trigger(ctx, delegation.Request{
		ChannelID:            channelID,
		AgentID:              agentID,
		PlaceholderMessageID: placeholderMessageID,
		TriggeringText:       triggeringText,
		TriggeringUsername:   triggeringUsername,
		Depth:                depth,
	})
}

// Trigger is TriggerDelegation taking a request value.
func (m *Mesh) Trigger(ctx context.Context, req delegation.Request) delegation.Result {
	return m.dispatcher.Trigger(ctx, req)
}

// Placeholder is an agent reply slot created by PostMessage.
type Placeholder struct {
	AgentID   string            `json:"agent_id"`
	AgentName string            `json:"agent_name"`
	MessageID string            `json:"message_id"`
	Result    delegation.Result `json:"result"`
}

// PostResult describes a posted user message and the agents it triggered.
type PostResult struct {
	MessageID    string        `json:"message_id"`
	Placeholders []Placeholder `json:"placeholders"`
}

// PostMessage stores a user message and, for every channel agent it
// mentions, a placeholder reply. The mentioned agents run concurrently at
// depth 0; PostMessage returns once all of their trees are terminal.
func (m *Mesh) PostMessage(ctx context.Context, channelID, username, content string) (*PostResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	msg := core.Message{
		ID:         core.NewMessageID(),
		ChannelID:  channelID,
		AuthorKind: core.AuthorUser,
		AuthorID:   username,
		Content:    content,
		CreatedAt:  m.opts.Clock(),
	}
	if err := m.messages.Insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	res := &PostResult{MessageID: msg.ID}

	targets, err := m.directory.ResolveTargets(ctx, channelID, mention.Parse(content), "")
	if err != nil {
		return res, fmt.Errorf("resolve mentions: %w", err)
	}
	if len(targets) == 0 {
		return res, nil
	}

	// Placeholders are inserted sequentially so their order matches the text.
	for _, agent := range targets {
		p := core.Message{
			ID:         core.NewMessageID(),
			ChannelID:  channelID,
			AuthorKind: core.AuthorAgent,
			AuthorID:   agent.ID,
			Content:    core.PlaceholderContent,
			CreatedAt:  m.opts.Clock(),
		}
		if err := m.messages.Insert(ctx, p); err != nil {
			return res, fmt.Errorf("insert placeholder for %s: %w", agent.Name, err)
		}
		res.Placeholders = append(res.Placeholders, Placeholder{AgentID: agent.ID, AgentName: agent.Name, MessageID: p.ID})
	}

	var g errgroup.Group
	for i := range res.Placeholders {
		p := &res.Placeholders[i]
		g.Go(func() error {
			p.Result = m.TriggerDelegation(ctx, channelID, p.AgentID, p.MessageID, content, username, 0)
			return nil
		})
	}
	_ = g.Wait()

	return res, nil
}

// Messages returns the newest limit messages of a channel, oldest first.
func (m *Mesh) Messages(ctx context.Context, channelID string, limit int) ([]core.Message, error) {
	return m.messages.ListHistory(ctx, channelID, limit)
}

// CreateAgent validates and stores a new agent. An empty id is generated.
func (m *Mesh) CreateAgent(ctx context.Context, agent core.Agent) (core.Agent, error) {
	agent.Name = strings.TrimSpace(agent.Name)
	if agent.Class == "" {
		agent.Class = core.CapabilityStandard
	}
	if err := agent.Validate(); err != nil {
		return core.Agent{}, err
	}
	if agent.ID == "" {
		agent.ID = core.NewID()
	}
	if err := m.store.CreateAgent(ctx, agent); err != nil {
		return core.Agent{}, err
	}
	return agent, nil
}

// AddMember adds a user or agent to a channel. Agents must exist.
func (m *Mesh) AddMember(ctx context.Context, member core.ChannelMember) error {
	if strings.TrimSpace(member.MemberID) == "" {
		return &core.ValidationError{Field: "member_id", Message: "is required"}
	}
	switch member.Kind {
	case core.MemberUser:
	case core.MemberAgent:
		if _, err := m.directory.Agent(ctx, member.MemberID); err != nil {
			return err
		}
	default:
		return &core.ValidationError{Field: "member_type", Message: fmt.Sprintf("unknown member type %q", member.Kind)}
	}
	return m.store.AddMember(ctx, member)
}

// Members lists the members of a channel.
func (m *Mesh) Members(ctx context.Context, channelID string) ([]core.ChannelMember, error) {
	return m.store.ListChannelMembers(ctx, channelID)
}

// Hub returns the live update hub, or nil when live updates are disabled.
func (m *Mesh) Hub() *live.Hub { return m.opts.Hub }
