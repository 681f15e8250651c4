package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/channelmesh/core"
)

// Roster is a declarative set of agents and channel memberships.
//
//	agents:
//	  - name: researcher
//	    description: Finds facts
//	    instructions: You research topics.
//	    capability_class: research
//	channels:
//	  - id: general
//	    users: [alice]
//	    agents: [researcher]
type Roster struct {
	Agents   []core.Agent    `yaml:"agents"`
	Channels []RosterChannel `yaml:"channels"`
}

// RosterChannel lists the members of one channel. Agents are referenced by name.
type RosterChannel struct {
	ID     string   `yaml:"id"`
	Users  []string `yaml:"users"`
	Agents []string `yaml:"agents"`
}

// SeedResult counts the records a Seed call created.
type SeedResult struct {
	AgentsCreated int
	AgentsSkipped int
	Members       int
}

// LoadRoster reads and validates a roster file.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return ParseRoster(data)
}

// ParseRoster decodes a YAML roster. Agents without an id get one derived
// from their name, so seeding the same file twice is idempotent.
func ParseRoster(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}

	names := make(map[string]bool, len(r.Agents))
	for i := range r.Agents {
		a := &r.Agents[i]
		a.Name = strings.TrimSpace(a.Name)
		if a.Class == "" {
			a.Class = core.CapabilityStandard
		}
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("agent %d: %w", i, err)
		}
		if names[a.MentionKey()] {
			return nil, fmt.Errorf("agent %q: %w", a.Name, core.ErrAgentNameTaken)
		}
		names[a.MentionKey()] = true
		if a.ID == "" {
			a.ID = AgentID(a.Name)
		}
	}

	for _, ch := range r.Channels {
		if ch.ID == "" {
			return nil, errors.New("channel without id")
		}
		for _, name := range ch.Agents {
			if !names[strings.ToLower(name)] {
				return nil, fmt.Errorf("channel %s: unknown agent %q", ch.ID, name)
			}
		}
	}
	return &r, nil
}

// AgentID derives the stable id of a roster agent from its name.
func AgentID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("channelmesh:agent:"+strings.ToLower(name))).String()
}

// Seed creates the roster's agents and memberships. Agents whose id already
// exists are left untouched.
func (r *Roster) Seed(ctx context.Context, dir core.AgentDirectory, admin core.ChannelAdmin) (SeedResult, error) {
	var res SeedResult
	ids := make(map[string]string, len(r.Agents))

	for _, a := range r.Agents {
		ids[a.MentionKey()] = a.ID

		_, err := dir.GetAgent(ctx, a.ID)
		switch {
		case err == nil:
			res.AgentsSkipped++
			continue
		case !errors.Is(err, core.ErrAgentNotFound):
			return res, fmt.Errorf("lookup agent %s: %w", a.Name, err)
		}

		if err := admin.CreateAgent(ctx, a); err != nil {
			return res, fmt.Errorf("create agent %s: %w", a.Name, err)
		}
		res.AgentsCreated++
	}

	for _, ch := range r.Channels {
		members := make([]core.ChannelMember, 0, len(ch.Users)+len(ch.Agents))
		for _, u := range ch.Users {
			members = append(members, core.ChannelMember{ChannelID: ch.ID, Kind: core.MemberUser, MemberID: u})
		}
		for _, name := range ch.Agents {
			members = append(members, core.ChannelMember{ChannelID: ch.ID, Kind: core.MemberAgent, MemberID: ids[strings.ToLower(name)]})
		}
		for _, m := range members {
			if err := admin.AddMember(ctx, m); err != nil {
				return res, fmt.Errorf("add member %s to %s: %w", m.MemberID, ch.ID, err)
			}
			res.Members++
		}
	}
	return res, nil
}
