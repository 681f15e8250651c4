// Package prompt assembles the per-invocation context of a delegation branch:
// the bounded conversation history and the composed system instructions.
//
// Build performs reads only. Given the same store snapshot it produces the
// same InvocationContext, which lets the dispatcher treat it as a pure step.
package prompt

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/directory"
	"github.com/hupe1980/channelmesh/internal/util"
	"github.com/hupe1980/channelmesh/logging"
)

// HistoryLimit is the number of most recent channel messages given to a model.
const HistoryLimit = 30

// FallbackPersona is used when an agent has no persona instructions.
const FallbackPersona = "You are a helpful assistant in a chat channel."

// Request identifies the branch a context is built for.
type Request struct {
	ChannelID            string
	AgentID              string
	PlaceholderMessageID string
	TriggeringText       string
	TriggeringUsername   string
	// OriginUsername is the human who started the chain. It differs from
	// TriggeringUsername once an agent delegates.
	OriginUsername string
	Depth          int
	// ToolsGranted adds the closing-summary rule to the instructions.
	ToolsGranted bool
}

// Options configures a Builder.
type Options struct {
	HistoryLimit int
	Logger       logging.Logger
}

// Builder reads history and roster data and composes instructions.
type Builder struct {
	messages  core.MessageStore
	directory *directory.Directory
	opts      Options
}

// NewBuilder creates a Builder.
func NewBuilder(messages core.MessageStore, dir *directory.Directory, optFns ...func(o *Options)) *Builder {
	opts := Options{
		HistoryLimit: HistoryLimit,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Builder{messages: messages, directory: dir, opts: opts}
}

// Build snapshots the agent, its channel roster and the recent history, and
// composes the instructions for one invocation.
func (b *Builder) Build(ctx context.Context, req Request) (*core.InvocationContext, error) {
	agent, err := b.directory.Agent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	return b.BuildFor(ctx, agent, req)
}

// BuildFor is Build for an agent the caller already resolved.
func (b *Builder) BuildFor(ctx context.Context, agent core.Agent, req Request) (*core.InvocationContext, error) {
	roster, err := b.directory.Roster(ctx, req.ChannelID, agent.ID)
	if err != nil {
		return nil, err
	}

	msgs, err := b.messages.ListHistory(ctx, req.ChannelID, b.opts.HistoryLimit+1)
	if err != nil {
		return nil, fmt.Errorf("list history of channel %s: %w", req.ChannelID, err)
	}

	names := make(map[string]string, len(roster)+1)
	names[agent.ID] = agent.Name
	for _, a := range roster {
		names[a.ID] = a.Name
	}

	history := b.history(ctx, msgs, names, req)

	instructions, err := Instructions(agent, roster, req)
	if err != nil {
		return nil, err
	}

	return &core.InvocationContext{
		Context:              ctx,
		InvocationID:         core.NewID(),
		ChannelID:            req.ChannelID,
		PlaceholderMessageID: req.PlaceholderMessageID,
		Agent:                agent,
		TriggeringText:       req.TriggeringText,
		TriggeringUsername:   req.TriggeringUsername,
		OriginUsername:       req.OriginUsername,
		Depth:                req.Depth,
		Roster:               roster,
		History:              history,
		Instructions:         instructions,
		Logger:               b.opts.Logger,
	}, nil
}

func (b *Builder) history(ctx context.Context, msgs []core.Message, names map[string]string, req Request) []core.HistoryEntry {
	out := make([]core.HistoryEntry, 0, len(msgs)+1)
	for _, m := range msgs {
		// pending placeholders of sibling branches carry no content yet
		if m.ID == req.PlaceholderMessageID || m.Content == core.PlaceholderContent {
			continue
		}
		out = append(out, core.HistoryEntry{
			Role:    m.AuthorKind.Role(),
			Name:    b.authorName(ctx, m, names),
			Content: m.Content,
		})
	}
	if len(out) > b.opts.HistoryLimit {
		out = out[len(out)-b.opts.HistoryLimit:]
	}

	text := strings.TrimSpace(req.TriggeringText)
	if text == "" {
		return out
	}
	if n := len(out); n > 0 && out[n-1].Role == core.RoleUser && strings.TrimSpace(out[n-1].Content) == text {
		return out
	}
	return append(out, core.HistoryEntry{Role: core.RoleUser, Name: req.TriggeringUsername, Content: req.TriggeringText})
}

// authorName resolves the display name of a message author. Agents outside
// the current roster are looked up once and cached in names.
func (b *Builder) authorName(ctx context.Context, m core.Message, names map[string]string) string {
	switch m.AuthorKind {
	case core.AuthorUser:
		return m.AuthorID
	case core.AuthorSystem:
		return "system"
	}
	if n, ok := names[m.AuthorID]; ok {
		return n
	}
	a, err := b.directory.Agent(ctx, m.AuthorID)
	if err != nil {
		b.opts.Logger.Debug("prompt.author.unresolved", "author_id", m.AuthorID, "error", err.Error())
		names[m.AuthorID] = m.AuthorID
		return m.AuthorID
	}
	names[m.AuthorID] = a.Name
	return a.Name
}

// Instructions composes the system instructions for agent. Roster must not
// contain agent itself.
func Instructions(agent core.Agent, roster []core.Agent, req Request) (string, error) {
	persona := strings.TrimSpace(agent.Instructions)
	if persona == "" {
		persona = FallbackPersona
	}
	persona, err := util.RenderTemplate(persona, map[string]any{
		"agent_name": agent.Name,
		"channel_id": req.ChannelID,
		"username":   req.TriggeringUsername,
		"depth":      strconv.Itoa(req.Depth),
	})
	if err != nil {
		return "", fmt.Errorf("render persona of %s: %w", agent.Name, err)
	}

	var sb strings.Builder
	sb.WriteString(persona)

	sb.WriteString("\n\n## Identity\n")
	fmt.Fprintf(&sb, "You are @%s.", agent.Name)
	if d := strings.TrimSpace(agent.Description); d != "" {
		fmt.Fprintf(&sb, " Your role: %s", d)
	}

	sb.WriteString("\n\n## Collaboration\n")
	if len(roster) == 0 {
		sb.WriteString("There are no other agents in this channel. Do not @mention anyone.\n")
	} else {
		sb.WriteString("Other agents in this channel:\n")
		for _, a := range roster {
			desc := strings.TrimSpace(a.Description)
			if desc == "" {
				desc = "no description"
			}
			fmt.Fprintf(&sb, "- @%s: %s\n", a.Name, desc)
		}
		sb.WriteString("\nWriting @name hands work to that agent and makes it reply. " +
			"Use @mentions ONLY to delegate a task. Never @mention an agent just to refer to it; " +
			"write its name without the @ instead.\n")
		sb.WriteString("When sub-tasks depend on each other, delegate them one at a time: mention one agent, " +
			"wait for its reply, then mention the next. Mention several agents in the same message only when " +
			"their sub-tasks are independent of each other.\n")
	}

	if req.ToolsGranted {
		sb.WriteString("\n## Tools\n")
		sb.WriteString("You may call tools to gather information. Calling tools is never a complete answer: " +
			"always end your response with a written summary of what you found.\n")
	}

	if u := strings.TrimSpace(req.TriggeringUsername); u != "" {
		fmt.Fprintf(&sb, "\nYou are responding to %s. Address them by name.\n", u)
		if o := strings.TrimSpace(req.OriginUsername); o != "" && !strings.EqualFold(o, u) {
			fmt.Fprintf(&sb, "This conversation was started by %s.\n", o)
		}
	}

	return strings.TrimRight(sb.String(), "\n"), nil
}
