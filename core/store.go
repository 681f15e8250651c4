package core

import "context"

// MessageStore persists channel transcripts. Implementations must support many
// small sequential updates to the same message id cheaply.
type MessageStore interface {
	// Insert stores a new message. The caller supplies ID and CreatedAt.
	Insert(ctx context.Context, msg Message) error
	// Update replaces the content of an existing message.
	Update(ctx context.Context, id, content string) error
	// ListHistory returns the newest limit messages of a channel ordered
	// oldest to newest by (CreatedAt, ID).
	ListHistory(ctx context.Context, channelID string, limit int) ([]Message, error)
}

// MessageSearcher is an optional MessageStore extension used by research tools.
type MessageSearcher interface {
	SearchMessages(ctx context.Context, channelID, query string, limit int) ([]Message, error)
}

// MessageLocator is an optional MessageStore extension resolving the channel
// of a stored message.
type MessageLocator interface {
	// ChannelOf returns ErrMessageNotFound when id is unknown.
	ChannelOf(ctx context.Context, id string) (string, error)
}

// AgentDirectory resolves agent configuration and channel rosters.
type AgentDirectory interface {
	// GetAgent returns ErrAgentNotFound when id is unknown.
	GetAgent(ctx context.Context, id string) (*Agent, error)
	// ListChannelAgents returns the agent members of a channel except excludingID.
	ListChannelAgents(ctx context.Context, channelID, excludingID string) ([]Agent, error)
}

// ChannelAdmin is implemented by stores that also own agent and membership records.
type ChannelAdmin interface {
	CreateAgent(ctx context.Context, agent Agent) error
	AddMember(ctx context.Context, member ChannelMember) error
	ListChannelMembers(ctx context.Context, channelID string) ([]ChannelMember, error)
}

// IdempotencyLedger records processed trigger keys durably.
type IdempotencyLedger interface {
	// Claim returns true the first time key is seen and false for every later call.
	Claim(ctx context.Context, key string) (bool, error)
}
