package core

import "time"

// PlaceholderContent is the sentinel written into a message before its agent starts streaming.
const PlaceholderContent = "Thinking..."

// AuthorKind identifies who wrote a message.
type AuthorKind string

const (
	// AuthorUser marks a message posted by a human.
	AuthorUser AuthorKind = "user"
	// AuthorAgent marks a message produced by an agent.
	AuthorAgent AuthorKind = "agent"
	// AuthorSystem marks an informational message produced by the system.
	AuthorSystem AuthorKind = "system"
)

// Role maps the author kind onto the two-role scheme used for model history.
func (k AuthorKind) Role() string {
	if k == AuthorUser {
		return RoleUser
	}
	return RoleAssistant
}

// Message is one row of a channel transcript. Messages are totally ordered by
// (CreatedAt, ID); IDs are generated by the caller before insertion.
type Message struct {
	ID         string     `json:"id"`
	ChannelID  string     `json:"channel_id"`
	AuthorKind AuthorKind `json:"author_type"`
	AuthorID   string     `json:"author_id"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Before reports whether m sorts before o in transcript order.
func (m Message) Before(o Message) bool {
	if m.CreatedAt.Equal(o.CreatedAt) {
		return m.ID < o.ID
	}
	return m.CreatedAt.Before(o.CreatedAt)
}

const (
	// RoleUser is the history role for human-authored turns.
	RoleUser = "user"
	// RoleAssistant is the history role for agent and system turns.
	RoleAssistant = "assistant"
	// RoleTool carries function responses between invocation steps.
	RoleTool = "tool"
)

// HistoryEntry is one turn of the conversation handed to the model.
type HistoryEntry struct {
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}
