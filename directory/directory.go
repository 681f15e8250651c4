// Package directory resolves agent configuration and delegation targets on
// top of a core.AgentDirectory collaborator.
package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/channelmesh/core"
)

// Directory wraps a core.AgentDirectory with name normalization and mention
// resolution. It holds no state of its own and is safe for concurrent use.
type Directory struct {
	agents core.AgentDirectory
}

// New creates a Directory backed by agents.
func New(agents core.AgentDirectory) *Directory {
	return &Directory{agents: agents}
}

// Agent returns the configuration of agent id.
func (d *Directory) Agent(ctx context.Context, id string) (core.Agent, error) {
	a, err := d.agents.GetAgent(ctx, id)
	if err != nil {
		return core.Agent{}, fmt.Errorf("get agent %s: %w", id, err)
	}
	return normalize(*a), nil
}

// Roster returns the agents of a channel except excludingID, sorted by name.
func (d *Directory) Roster(ctx context.Context, channelID, excludingID string) ([]core.Agent, error) {
	agents, err := d.agents.ListChannelAgents(ctx, channelID, excludingID)
	if err != nil {
		return nil, fmt.Errorf("list agents of channel %s: %w", channelID, err)
	}
	out := make([]core.Agent, 0, len(agents))
	for _, a := range agents {
		if a.ID == excludingID {
			continue
		}
		out = append(out, normalize(a))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MentionKey() < out[j].MentionKey() })
	return out, nil
}

// ResolveTargets maps lowercased mention names to channel-member agents by
// case-insensitive name equality. The result follows the order of names;
// unknown names and excludingID are dropped without error.
func (d *Directory) ResolveTargets(ctx context.Context, channelID string, names []string, excludingID string) ([]core.Agent, error) {
	if len(names) == 0 {
		return nil, nil
	}
	roster, err := d.Roster(ctx, channelID, excludingID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]core.Agent, len(roster))
	for _, a := range roster {
		byName[a.MentionKey()] = a
	}

	targets := make([]core.Agent, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		a, ok := byName[strings.ToLower(n)]
		if !ok {
			continue
		}
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		targets = append(targets, a)
	}
	return targets, nil
}

func normalize(a core.Agent) core.Agent {
	if a.Name == "" && a.ID == core.DefaultAgentID {
		a.Name = core.DefaultAgentName
	}
	if a.Class == "" {
		a.Class = core.CapabilityStandard
	}
	return a
}
