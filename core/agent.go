package core

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultAgentID is the well-known id of the built-in coordinator agent.
const DefaultAgentID = "00000000-0000-0000-0000-000000000001"

// DefaultAgentName is used for the built-in coordinator when its stored name is empty.
const DefaultAgentName = "assistant"

// CapabilityClass is a policy tag controlling which external tools an agent may call.
type CapabilityClass string

const (
	// CapabilityStandard agents get no tools and must delegate instead.
	CapabilityStandard CapabilityClass = "standard"
	// CapabilityResearch agents receive the full research tool set.
	CapabilityResearch CapabilityClass = "research"
)

// ResearchCapable reports whether the class is flagged for tool access.
func (c CapabilityClass) ResearchCapable() bool { return c == CapabilityResearch }

// Valid reports whether c is a known class. The empty class counts as standard.
func (c CapabilityClass) Valid() bool {
	switch c {
	case "", CapabilityStandard, CapabilityResearch:
		return true
	default:
		return false
	}
}

// ModelConfig optionally pins an agent to a provider and model name.
type ModelConfig struct {
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
}

// Agent is the configuration of one AI participant. It is immutable for the
// duration of an invocation.
type Agent struct {
	ID           string          `json:"id" yaml:"id"`
	Name         string          `json:"name" yaml:"name"`
	Description  string          `json:"description" yaml:"description"`
	Instructions string          `json:"instructions" yaml:"instructions"`
	Class        CapabilityClass `json:"capability_class" yaml:"capability_class"`
	ModelConfig  ModelConfig     `json:"model_config" yaml:"model_config"`
}

var agentNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks the fields required to create or edit an agent.
func (a Agent) Validate() error {
	name := strings.TrimSpace(a.Name)
	if len(name) < 2 {
		return &ValidationError{Field: "name", Message: "must be at least 2 characters"}
	}
	if !agentNamePattern.MatchString(name) {
		return &ValidationError{Field: "name", Message: "may only contain letters, numbers, underscores and hyphens"}
	}
	if strings.TrimSpace(a.Instructions) == "" {
		return &ValidationError{Field: "instructions", Message: "is required"}
	}
	if strings.TrimSpace(a.Description) == "" {
		return &ValidationError{Field: "description", Message: "is required"}
	}
	if !a.Class.Valid() {
		return &ValidationError{Field: "capability_class", Message: fmt.Sprintf("unknown class %q", a.Class)}
	}
	return nil
}

// MentionKey is the lowercase form of the agent name used for mention matching.
func (a Agent) MentionKey() string { return strings.ToLower(a.Name) }

// MemberKind distinguishes human and agent channel members.
type MemberKind string

const (
	// MemberUser is a human channel member.
	MemberUser MemberKind = "user"
	// MemberAgent is an agent channel member.
	MemberAgent MemberKind = "agent"
)

// ChannelMember is a (channel, member) pair.
type ChannelMember struct {
	ChannelID string     `json:"channel_id" yaml:"channel_id"`
	Kind      MemberKind `json:"member_type" yaml:"member_type"`
	MemberID  string     `json:"member_id" yaml:"member_id"`
}
